package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Identify faces in an image against a tenant's index",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().String("tenant", "", "Tenant UUID (required)")
	_ = identifyCmd.MarkFlagRequired("tenant")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	imageBytes, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	outcome, err := rt.pipeline.Identify(ctx, imageBytes, mustGetString(cmd, "tenant"))
	if err != nil {
		return fmt.Errorf("identification failed: %w", err)
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
