package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "A multi-tenant face identification service",
	Long: `Facegate detects faces in images, embeds them with ONNX models and
matches them against per-tenant vector indices. It runs as an HTTP
service or as a CLI for enrollment, identification and index rebuilds.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// newLogger builds the process logger. Debug mode uses the human-readable
// development encoder.
func newLogger() (*zap.Logger, error) {
	if debugLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
