package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pagetranslationflow/internal/config"
	"github.com/Lllllllleong/pagetranslationflow/internal/server"
	"github.com/Lllllllleong/pagetranslationflow/internal/services"
)

var (
	handler http.Handler
	once    sync.Once
	initErr error
)

func init() {
	slog.SetDefault(config.NewLogger(os.Stdout, os.Getenv("PAGETRANSLATE_LOG_LEVEL")))

	// "HandleTranslate" is the entry point name deployed to Cloud Functions.
	functions.HTTP("HandleTranslate", handleTranslate)
}

// main runs the function locally when PORT is set.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		return
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework exited", "error", err)
		os.Exit(1)
	}
}

func setup() (http.Handler, error) {
	cfg, err := config.NewLoader(nil).Load("")
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	translator, err := services.NewTranslator(ctx, *cfg, services.Deps{})
	if err != nil {
		return nil, err
	}
	go translator.RunSweeper(ctx)
	return server.FromTranslator(translator).Router(), nil
}

// handleTranslate serves the full HTTP surface from a single function.
func handleTranslate(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		handler, initErr = setup()
	})
	if initErr != nil {
		slog.Error("Translator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
