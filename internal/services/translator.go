package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/config"
	"github.com/Lllllllleong/pagetranslationflow/internal/gcp"
	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/ocr"
	"github.com/Lllllllleong/pagetranslationflow/internal/pipeline"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/Lllllllleong/pagetranslationflow/internal/raster"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
	"github.com/Lllllllleong/pagetranslationflow/internal/translate"
	"github.com/google/uuid"
)

// TranslatorFunction owns one configured pipeline plus the shared state
// every request needs: the cancellation coordinator, the progress hub and
// the staging area.
type TranslatorFunction struct {
	config      config.Config
	pipeline    *pipeline.Orchestrator
	coordinator *cancel.Coordinator
	hub         *progress.Hub
	staging     *staging.Area
	store       RecordStore
	exporter    *Exporter
	closers     []func() error
}

// RecordStore saves finished runs and reports which staged images they use.
type RecordStore interface {
	pipeline.Store
	staging.Preserver
}

// Deps overrides components, mainly for tests and the local CLI.
type Deps struct {
	Model    llm.Model
	Open     raster.OpenFunc
	Staging  *staging.Area
	Store    RecordStore
	Exporter *Exporter
	Sink     progress.Sink
}

// NewTranslator wires a TranslatorFunction from cfg, creating cloud clients
// for anything deps does not supply.
func NewTranslator(ctx context.Context, cfg config.Config, deps Deps) (*TranslatorFunction, error) {
	f := &TranslatorFunction{config: cfg}

	area := deps.Staging
	if area == nil {
		var err error
		if area, err = staging.NewArea(cfg.Pipeline.StagingDir); err != nil {
			return nil, fmt.Errorf("failed to create staging area: %w", err)
		}
	}
	f.staging = area

	var err error
	model := deps.Model
	if model == nil {
		if model, err = f.newModel(ctx); err != nil {
			f.Close()
			return nil, err
		}
	}
	if cfg.Model.RequestsPerMinute > 0 {
		model = llm.NewRateLimited(model, cfg.Model.RequestsPerMinute)
	}

	f.store = deps.Store
	if f.store == nil && cfg.GCP.ProjectID != "" {
		if f.store, err = f.newStore(ctx); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.exporter = deps.Exporter
	if f.exporter == nil && cfg.GCP.ExportBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		f.closers = append(f.closers, storageClient.Close)
		f.exporter = NewExporter(NewGCSExportSink(storageClient, cfg.GCP.ExportBucket))
	}

	f.coordinator = cancel.NewCoordinator(cfg.Pipeline.GracePeriod)
	f.hub = progress.NewHub(progress.Hooks{
		OnConnect:    func(id string) { f.coordinator.Reconnect(id) },
		OnDisconnect: f.coordinator.Disconnect,
		OnCancel:     func(id string) bool { return f.coordinator.Cancel(id, true) },
	})

	policy := llm.DefaultRetryPolicy().WithAttempts(cfg.Model.MaxAttempts, cfg.Model.BaseDelay)
	rasterizer := raster.New(deps.Open, area,
		raster.WithDPI(cfg.Pipeline.DPI),
		raster.WithJPEGQuality(cfg.Pipeline.JPEGQuality),
	)
	extractor := ocr.New(model, ocr.WithRetryPolicy(policy), ocr.WithMaxTokens(cfg.Model.OCRMaxTokens))
	translator := translate.New(model, translate.WithRetryPolicy(policy), translate.WithMaxTokens(cfg.Model.TranslateMaxTokens))

	sink := deps.Sink
	if sink == nil {
		sink = f.hub
	}
	opts := []pipeline.Option{
		pipeline.WithSink(sink),
		pipeline.WithInspector(func(data []byte) (int, error) {
			return raster.Inspect(data, rasterizer.Open())
		}),
	}
	if f.store != nil {
		opts = append(opts, pipeline.WithStore(f.store))
	}
	f.pipeline = pipeline.New(rasterizer, extractor, translator, area, opts...)

	slog.Info("Translator initialized.",
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"persistence", f.store != nil,
		"export", f.exporter != nil,
	)
	return f, nil
}

func (f *TranslatorFunction) newModel(ctx context.Context) (llm.Model, error) {
	switch f.config.Model.Provider {
	case config.ProviderOpenAI:
		m, err := llm.NewOpenAIModel(llm.OpenAIConfig{
			APIKey:  f.config.Model.APIKey,
			BaseURL: f.config.Model.BaseURL,
			Model:   f.config.Model.Name,
			Timeout: f.config.Model.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai model: %w", err)
		}
		return m, nil
	default:
		m, err := gcp.NewVertexModel(ctx, f.config.GCP.ProjectID, f.config.GCP.Region, f.config.Model.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex model: %w", err)
		}
		f.closers = append(f.closers, m.Close)
		return m, nil
	}
}

func (f *TranslatorFunction) newStore(ctx context.Context) (RecordStore, error) {
	firestoreClient, err := gcp.NewFirestoreClient(ctx, f.config.GCP.ProjectID)
	if err != nil {
		return nil, err
	}
	var archive gcp.ImageArchiver
	if f.config.GCP.ImageBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			_ = firestoreClient.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		f.closers = append(f.closers, storageClient.Close)
		archive = gcp.NewPageImageStore(storageClient, f.config.GCP.ImageBucket, f.staging.Load)
	}
	store := gcp.NewTranslationStore(firestoreClient, f.config.GCP.Collection, archive)
	f.closers = append(f.closers, store.Close)
	return store, nil
}

// Translate runs one request under a cancellation token tracked by its
// connection ID. Successful runs are exported when an exporter is configured.
func (f *TranslatorFunction) Translate(ctx context.Context, req models.TranslationRequest) (*models.TranslationResponse, error) {
	if req.ConnectionID == "" {
		req.ConnectionID = uuid.NewString()
	}
	tok, release := f.coordinator.Track(req.ConnectionID)
	defer release()
	defer f.hub.Forget(req.ConnectionID)

	resp, err := f.pipeline.Run(ctx, req, tok)
	if err != nil || !resp.Success || f.exporter == nil {
		return resp, err
	}

	uri, exportErr := f.exporter.Export(ctx, ExportPrefix(req.Document.OriginalFilename, req.ConnectionID), resp)
	if exportErr != nil {
		slog.Warn("Export failed, returning result without it.", "connectionId", req.ConnectionID, "error", exportErr)
		return resp, nil
	}
	resp.ExportURI = uri
	return resp, nil
}

// RedoPage reruns OCR and translation for one staged page.
func (f *TranslatorFunction) RedoPage(ctx context.Context, req models.RedoPageRequest) (*models.PageResult, error) {
	return f.pipeline.RedoPage(ctx, req)
}

// Cancel stops the run registered under connectionID. It reports whether
// such a run existed.
func (f *TranslatorFunction) Cancel(connectionID string) bool {
	return f.coordinator.Cancel(connectionID, true)
}

// Hub returns the websocket progress hub.
func (f *TranslatorFunction) Hub() *progress.Hub {
	return f.hub
}

// Staging returns the page image area.
func (f *TranslatorFunction) Staging() *staging.Area {
	return f.staging
}

// Config returns the configuration the function was built with.
func (f *TranslatorFunction) Config() config.Config {
	return f.config
}

// RunSweeper periodically removes stale staged images until ctx is done.
// Images referenced by saved records are kept.
func (f *TranslatorFunction) RunSweeper(ctx context.Context) {
	if f.config.Pipeline.SweepInterval <= 0 {
		return
	}
	var preserver staging.Preserver = noPreserved{}
	if f.store != nil {
		preserver = f.store
	}
	f.staging.RunSweeper(ctx, f.config.Pipeline.SweepInterval, f.config.Pipeline.StagingMaxAge, preserver)
}

type noPreserved struct{}

func (noPreserved) PreservedPaths(context.Context) ([]string, error) { return nil, nil }

// Close releases every client the function created.
func (f *TranslatorFunction) Close() error {
	var firstErr error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
