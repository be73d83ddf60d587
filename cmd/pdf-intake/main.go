package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pagetranslationflow/internal/config"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	intakeInstance *services.IntakeFunction
	once           sync.Once
	initErr        error
)

func init() {
	slog.SetDefault(config.NewLogger(os.Stdout, os.Getenv("PAGETRANSLATE_LOG_LEVEL")))

	functions.CloudEvent("TranslateUpload", translateUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// translateUpload handles a google.cloud.storage.object.v1.finalized event.
func translateUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var cfg *config.Config
		cfg, initErr = config.NewLoader(nil).Load("")
		if initErr != nil {
			return
		}
		intakeInstance, initErr = services.NewIntake(context.Background(), *cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process; returning marks the
	// invocation failed.
	return intakeInstance.Process(ctx, gcsEvent)
}
