package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identification API server",
	Long: `Start the Facegate HTTP server.
The server exposes identification, enrollment and model status endpoints
under /api/v1 for all tenants sharing this instance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	host := rt.cfg.Web.Host
	port := rt.cfg.Web.Port
	if flagHost := mustGetString(cmd, "host"); flagHost != "" {
		host = flagHost
	}
	if flagPort := mustGetInt(cmd, "port"); flagPort != 0 {
		port = flagPort
	}

	server := web.NewServer(rt.pipeline, host, port, rt.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		rt.log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.log.Error("error during shutdown", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
