package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll a reference face image for an identity",
	Long: `Enroll adds the single face in the given image to a tenant's index
under the given label. Images with zero or multiple faces are rejected,
as are near-duplicates of already enrolled reference images.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("tenant", "", "Tenant UUID (required)")
	enrollCmd.Flags().String("label", "", "Identity label, e.g. a person's name (required)")
	_ = enrollCmd.MarkFlagRequired("tenant")
	_ = enrollCmd.MarkFlagRequired("label")
}

func runEnroll(cmd *cobra.Command, args []string) error {
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

	receipt, err := rt.pipeline.Enroll(ctx, imageBytes, mustGetString(cmd, "tenant"), mustGetString(cmd, "label"))
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	out, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
