package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/reindex"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild a tenant's vector index from its reference images",
	Long: `Reindex walks the tenant's reference image corpus, embeds every
image and replaces the tenant's index and label files wholesale. Use it
to recover a corrupted index pair or after changing the embedding model.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)

	reindexCmd.Flags().String("tenant", "", "Tenant UUID (required)")
	reindexCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	_ = reindexCmd.MarkFlagRequired("tenant")
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	r := reindex.New(rt.store, rt.models, rt.cfg.Store.DatasetDir, rt.log,
		!mustGetBool(cmd, "no-progress"))

	result, err := r.Rebuild(ctx, mustGetString(cmd, "tenant"))
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
