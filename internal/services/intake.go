package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagetranslationflow/internal/config"
	"github.com/Lllllllleong/pagetranslationflow/internal/gcp"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
)

// IntakeRecords is the Firestore surface the bucket intake needs.
type IntakeRecords interface {
	FindByHash(ctx context.Context, fileHash string) (string, bool, error)
	Create(ctx context.Context, rec models.TranslationRecord) (string, error)
	Complete(ctx context.Context, id string, rec models.TranslationRecord) error
	UpdateStatus(ctx context.Context, id, status, errDetails string) error
}

// ObjectReader downloads one bucket object.
type ObjectReader func(ctx context.Context, bucket, object string) ([]byte, error)

// WorkflowStarter hands a finished document to a downstream workflow.
type WorkflowStarter interface {
	Trigger(ctx context.Context, payload any) (string, error)
}

// IntakeFunction translates PDFs as they land in a bucket.
type IntakeFunction struct {
	translator *TranslatorFunction
	records    IntakeRecords
	read       ObjectReader
	workflow   WorkflowStarter
	language   string
	closers    []func() error
}

// NewIntake wires the bucket intake from cfg. A Firestore project is
// required. The workflow hand-off is enabled by gcp.workflow_id.
func NewIntake(ctx context.Context, cfg config.Config) (*IntakeFunction, error) {
	if err := cfg.RequireProject(); err != nil {
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		_ = storageClient.Close()
		return nil, err
	}

	area, err := staging.NewArea(cfg.Pipeline.StagingDir)
	if err != nil {
		_ = firestoreClient.Close()
		_ = storageClient.Close()
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}
	var archive gcp.ImageArchiver
	if cfg.GCP.ImageBucket != "" {
		archive = gcp.NewPageImageStore(storageClient, cfg.GCP.ImageBucket, area.Load)
	}
	store := gcp.NewTranslationStore(firestoreClient, cfg.GCP.Collection, archive)

	translator, err := NewTranslator(ctx, cfg, Deps{Staging: area, Store: store})
	if err != nil {
		_ = store.Close()
		_ = storageClient.Close()
		return nil, err
	}

	f := &IntakeFunction{
		translator: translator,
		records:    store,
		read: func(ctx context.Context, bucket, object string) ([]byte, error) {
			return gcp.ReadObject(ctx, storageClient, bucket, object)
		},
		language: cfg.Pipeline.Language,
		closers:  []func() error{storageClient.Close, store.Close, translator.Close},
	}

	if cfg.GCP.WorkflowID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, cfg.GCP.ProjectID, cfg.GCP.WorkflowLocation, cfg.GCP.WorkflowID)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.workflow = trigger
		f.closers = append(f.closers, trigger.Close)
	}

	slog.Info("PDF intake initialized.", "collection", cfg.GCP.Collection, "workflowId", cfg.GCP.WorkflowID)
	return f, nil
}

// NewIntakeWith assembles an intake from existing parts.
func NewIntakeWith(translator *TranslatorFunction, records IntakeRecords, read ObjectReader, workflow WorkflowStarter, language string) *IntakeFunction {
	return &IntakeFunction{
		translator: translator,
		records:    records,
		read:       read,
		workflow:   workflow,
		language:   language,
	}
}

// Process handles one object finalize event. Non-PDF objects and files
// already translated are skipped without error.
func (f *IntakeFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Object is not a PDF. Skipping.")
		return nil
	}

	data, err := f.read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	fileHash := hashContent(data)
	logCtx = logCtx.With("fileHash", fileHash)

	existingID, isDuplicate, err := f.records.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existingID)
		return nil
	}

	language := f.language
	if l := strings.TrimSpace(e.Metadata[models.LanguageMetadataKey]); l != "" {
		language = l
	}
	doc := models.Document{
		OriginalFilename: path.Base(e.Name),
		Data:             data,
		FileSize:         int64(len(data)),
	}
	id, err := f.records.Create(ctx, models.TranslationRecord{
		OriginalFileName: doc.OriginalFilename,
		FileHash:         fileHash,
		Language:         language,
		FileSize:         doc.FileSize,
		ImagePaths:       []string{},
		Pages:            []models.PageRecord{},
		Status:           models.RecordProcessing,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", id)
	logCtx.Info("Created translation record in Firestore.")

	resp, err := f.translator.Translate(ctx, models.TranslationRequest{
		Document:     doc,
		Language:     language,
		ConnectionID: id,
		Scope:        id,
	})
	if err != nil {
		return f.handleError(ctx, logCtx, id, "translation failed", err)
	}
	if !resp.Success {
		return f.handleError(ctx, logCtx, id, "translation did not complete", fmt.Errorf("%s", resp.Message))
	}

	doc.PageCount = resp.PageCount
	rec := models.NewTranslationRecord(doc, language, "", resp.Pages)
	rec.FileHash = fileHash
	rec.ExportURI = resp.ExportURI
	if err := f.records.Complete(ctx, id, rec); err != nil {
		return f.handleError(ctx, logCtx, id, "failed to store translation", err)
	}
	logCtx.Info("Translation stored.", "pages", len(resp.Pages), "exportUri", resp.ExportURI)

	if f.workflow != nil {
		payload := map[string]any{
			"documentId": id,
			"pageCount":  resp.PageCount,
			"exportUri":  resp.ExportURI,
		}
		if _, err := f.workflow.Trigger(ctx, payload); err != nil {
			return f.handleError(ctx, logCtx, id, "failed to trigger workflow execution", err)
		}
		logCtx.Info("Hand-off to workflow complete.")
	}
	return nil
}

func (f *IntakeFunction) handleError(ctx context.Context, logCtx *slog.Logger, id, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.records.UpdateStatus(ctx, id, models.RecordFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// Close releases every client the intake created.
func (f *IntakeFunction) Close() error {
	var firstErr error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
