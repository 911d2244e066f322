// ABOUTME: HTTP server command for the browser-facing JSON API.
// ABOUTME: Serves the feed, interactions, catalog, and Prometheus metrics until interrupted.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/catalog"
	"github.com/2389-research/agora/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the feed over HTTP",
	Long:  "Start the JSON API with /api/feed, post interactions, the catalog, /healthz, and /metrics.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = globalConfig.ServerAddr()
	}

	app := server.New(&server.Config{
		Controller: globalController,
		DB:         globalDB,
		Catalog:    cat,
		Logger:     globalLogger,
		Clock:      time.Now,
	})

	errCh := make(chan error, 1)
	go func() {
		globalLogger.WithField("addr", addr).Info("Listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
		globalLogger.Info("Shutting down")
		return app.ShutdownWithTimeout(5 * time.Second)
	}
}
