package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/server"
	"github.com/Lllllllleong/pagetranslationflow/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP translation server",
	Long: `Start an HTTP server exposing the translation pipeline.

The server provides the following endpoints:
  POST /api/translate                 - Translate an uploaded PDF (multipart field "file")
  POST /api/pages/redo                - Redo OCR and translation for one staged page
  POST /api/cancel/{connectionID}     - Cancel a running translation
  GET  /ws/progress/{connectionID}    - Live progress over WebSocket
  GET  /images/{scope}/{file}         - Staged page images
  GET  /metrics                       - Prometheus metrics
  GET  /healthz                       - Health check

Examples:
  pdftranslate serve
  pdftranslate serve --host 127.0.0.1 --port 3000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "listen port (default from config)")
	serveCmd.Flags().Int("max-upload-size", 0, "maximum upload size in MB (default from config)")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.max_upload_mb", serveCmd.Flags().Lookup("max-upload-size"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := *globalConfig

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	translator, err := services.NewTranslator(ctx, cfg, services.Deps{})
	if err != nil {
		return err
	}
	defer translator.Close()

	go translator.RunSweeper(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.FromTranslator(translator).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server.", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return err
	}
	slog.Info("HTTP server shutdown completed")
	return nil
}
