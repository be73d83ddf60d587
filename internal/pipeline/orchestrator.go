// Package pipeline sequences rasterization, OCR and translation for one
// document and reports progress and cancellation along the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/Lllllllleong/pagetranslationflow/internal/raster"
	"github.com/Lllllllleong/pagetranslationflow/internal/staging"
)

// Progress bands per stage.
const (
	stepStart        = 0
	stepRasterStart  = 5
	stepRasterEnd    = 50
	stepExtractEnd   = 75
	stepTranslateEnd = 98
	stepFinalizeEnd  = progress.Total
)

const translationFailure = "[Translation failed: %v]"

// ErrNoValidPages is returned when the page selection resolves to nothing.
var ErrNoValidPages = errors.New("no valid pages selected")

// Rasterizer renders the selected pages of a document.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc models.Document, scope string, pages []int, span progress.Span, check cancel.Checker) ([]models.RasterizedPage, error)
}

// Extractor performs OCR on rasterized pages.
type Extractor interface {
	ExtractText(ctx context.Context, pages []models.RasterizedPage, language string, span progress.Span, customPrompt string, check cancel.Checker) ([]models.OCROutcome, error)
	ExtractPage(ctx context.Context, page models.RasterizedPage, language, customPrompt string) models.OCROutcome
}

// Translator renders text into English.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, customPrompt string, check cancel.Checker) (string, error)
}

// Store persists finished translations for authenticated callers.
type Store interface {
	Save(ctx context.Context, rec models.TranslationRecord) (string, error)
}

// Stager protects page images while a run uses them.
type Stager interface {
	Acquire(scope string)
	Release(scope string)
	Load(imagePath string) ([]byte, error)
}

// InspectFunc returns the page count of a PDF.
type InspectFunc func(data []byte) (int, error)

// Orchestrator runs documents through the pipeline. It is safe for
// concurrent runs; all per-run state lives in the run.
type Orchestrator struct {
	rasterizer Rasterizer
	extractor  Extractor
	translator Translator
	stager     Stager
	store      Store
	sink       progress.Sink
	inspect    InspectFunc
	onState    func(connectionID string, s State)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore enables auto-save for authenticated runs.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithSink sets where live progress is delivered.
func WithSink(s progress.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithInspector overrides how page counts are read.
func WithInspector(fn InspectFunc) Option {
	return func(o *Orchestrator) { o.inspect = fn }
}

// WithStateHook observes every state transition.
func WithStateHook(fn func(connectionID string, s State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// New wires an Orchestrator.
func New(r Rasterizer, e Extractor, t Translator, stager Stager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rasterizer: r,
		extractor:  e,
		translator: t,
		stager:     stager,
		sink:       progress.Discard,
		inspect: func(data []byte) (int, error) {
			return raster.Inspect(data, raster.OpenFitz)
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type run struct {
	o      *Orchestrator
	req    models.TranslationRequest
	log    *progress.Log
	tok    *cancel.Token
	state  State
	logCtx *slog.Logger
}

func (r *run) transition(to State) {
	if !CanTransition(r.state, to) {
		r.logCtx.Error("Invalid pipeline transition.", "from", r.state.String(), "to", to.String())
		return
	}
	r.logCtx.Debug("Pipeline state changed.", "from", r.state.String(), "to", to.String())
	r.state = to
	if r.o.onState != nil {
		r.o.onState(r.req.ConnectionID, to)
	}
}

// Run processes one request. tok may be nil. The returned response is always
// non-nil; the error is non-nil for input failures (a *models.PipelineError)
// and user cancellation (cancel.ErrCancelled).
func (o *Orchestrator) Run(ctx context.Context, req models.TranslationRequest, tok *cancel.Token) (*models.TranslationResponse, error) {
	if tok == nil {
		tok = cancel.NewToken()
	}
	log := progress.NewLog(req.ConnectionID, o.sink)
	tok.OnCancel(func(reason cancel.Reason) {
		if reason == cancel.ReasonDisconnect {
			log.Mute()
		}
	})

	r := &run{
		o:     o,
		req:   req,
		log:   log,
		tok:   tok,
		state: StateIdle,
		logCtx: slog.With(
			"connectionId", req.ConnectionID,
			"document", req.Document.OriginalFilename,
			"language", req.Language,
		),
	}
	if tok.Reason() == cancel.ReasonDisconnect {
		log.Mute()
	}

	start := time.Now()
	resp, err := r.execute(ctx)
	metrics.PipelineRunsTotal.WithLabelValues(r.state.String()).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	resp.Progress = log.Models()
	return resp, err
}

func (r *run) execute(ctx context.Context) (*models.TranslationResponse, error) {
	doc := r.req.Document
	r.logCtx.Info("Starting translation.", "fileSize", doc.FileSize)
	r.log.Emit(stepStart, fmt.Sprintf("Received %s", doc.OriginalFilename))

	if len(doc.Data) == 0 {
		return r.fail(models.ValidationError("no document provided", nil))
	}
	if doc.FileSize == 0 {
		doc.FileSize = int64(len(doc.Data))
	}
	if doc.PageCount == 0 {
		count, err := r.o.inspect(doc.Data)
		if err != nil {
			return r.fail(err)
		}
		doc.PageCount = count
	}

	pages := raster.ParsePageRange(r.req.PageRange, doc.PageCount)
	if len(pages) == 0 {
		r.log.Emit(r.log.Last(), "No valid pages to process in the selected range")
		return r.fail(models.ValidationError(fmt.Sprintf("no valid pages in range %q for a %d-page document", r.req.PageRange, doc.PageCount), ErrNoValidPages))
	}
	r.logCtx = r.logCtx.With("pageCount", doc.PageCount, "selected", len(pages))

	// Each run stages into its own scope so a later run on the same
	// connection cannot overwrite images a saved record points to.
	scope := r.req.Scope
	if scope == "" && r.req.ConnectionID != "" {
		scope = r.req.ConnectionID + "-" + staging.NewScope()
	}
	if scope == "" {
		scope = staging.NewScope()
	}
	r.o.stager.Acquire(scope)
	defer r.o.stager.Release(scope)

	// Rasterizing
	r.transition(StateRasterizing)
	r.log.Emit(stepRasterStart, fmt.Sprintf("Converting %d pages to images", len(pages)))
	images, err := r.o.rasterizer.Rasterize(ctx, doc, scope, pages, r.log.Span(stepRasterStart, stepRasterEnd), r.tok)
	if err != nil {
		return r.abort(err)
	}

	// ExtractingText
	r.transition(StateExtractingText)
	outcomes, err := r.o.extractor.ExtractText(ctx, images, r.req.Language, r.log.Span(stepRasterEnd, stepExtractEnd), r.req.CustomOCRPrompt, r.tok)
	if err != nil {
		return r.abort(err)
	}

	// Translating
	r.transition(StateTranslating)
	translations, err := r.translateAll(ctx, outcomes)
	if err != nil {
		return r.abort(err)
	}

	// Finalizing
	r.transition(StateFinalizing)
	r.log.Emit(stepTranslateEnd, "Finalizing results")
	results := joinResults(images, outcomes, translations)

	resp := &models.TranslationResponse{
		Success:      true,
		Status:       models.StatusCompleted,
		OriginalName: doc.OriginalFilename,
		FileSize:     doc.FileSize,
		PageCount:    doc.PageCount,
		Pages:        results,
		Language:     r.req.Language,
	}
	r.autoSave(ctx, doc, resp)

	r.transition(StateDone)
	r.log.Emit(stepFinalizeEnd, fmt.Sprintf("Translation complete: %d pages", len(results)))
	r.logCtx.Info("Translation complete.", "pages", len(results), "autoSaved", resp.AutoSaved)
	return resp, nil
}

func (r *run) translateAll(ctx context.Context, outcomes []models.OCROutcome) ([]string, error) {
	span := r.log.Span(stepExtractEnd, stepTranslateEnd)
	out := make([]string, len(outcomes))
	for i, oc := range outcomes {
		if err := r.tok.Check(); err != nil {
			return nil, err
		}
		text, err := r.o.translator.Translate(ctx, oc.Text, r.req.Language, r.req.CustomTranslationPrompt, r.tok)
		switch {
		case errors.Is(err, cancel.ErrCancelled):
			return nil, err
		case err != nil:
			r.logCtx.Error("Translation failed for page.", "page", oc.PageNumber, "errorClass", "technical", "ocrStatus", oc.Status, "error", err)
			text = fmt.Sprintf(translationFailure, err)
		}
		out[i] = text
		span.Report(i+1, len(outcomes), fmt.Sprintf("Translated page %d (%d of %d)", oc.PageNumber, i+1, len(outcomes)))
	}
	return out, nil
}

func (r *run) autoSave(ctx context.Context, doc models.Document, resp *models.TranslationResponse) {
	if r.req.UserID == "" || r.o.store == nil {
		return
	}
	rec := models.NewTranslationRecord(doc, r.req.Language, r.req.UserID, resp.Pages)
	id, err := r.o.store.Save(ctx, rec)
	if err != nil {
		r.logCtx.Error("Failed to auto-save translation.", "errorClass", "persistence", "error", err)
		return
	}
	resp.AutoSaved = true
	resp.SavedID = id
	r.logCtx.Info("Translation auto-saved.", "savedId", id)
}

func (r *run) abort(err error) (*models.TranslationResponse, error) {
	if errors.Is(err, cancel.ErrCancelled) {
		r.transition(StateCancelled)
		r.log.Emit(r.log.Last(), "Translation cancelled")
		r.logCtx.Info("Translation cancelled by user.")
		return &models.TranslationResponse{
			Success:      false,
			Status:       models.StatusCancelled,
			Message:      "Translation cancelled by user",
			OriginalName: r.req.Document.OriginalFilename,
			Language:     r.req.Language,
		}, cancel.ErrCancelled
	}
	return r.fail(err)
}

func (r *run) fail(err error) (*models.TranslationResponse, error) {
	r.transition(StateFailed)
	r.logCtx.Error("Translation failed.", "error", err)
	r.log.Emit(r.log.Last(), "Translation failed: "+err.Error())
	return &models.TranslationResponse{
		Success:      false,
		Status:       models.StatusFailed,
		Message:      err.Error(),
		OriginalName: r.req.Document.OriginalFilename,
		Language:     r.req.Language,
	}, err
}

func joinResults(images []models.RasterizedPage, outcomes []models.OCROutcome, translations []string) []models.PageResult {
	byPage := make(map[int]models.RasterizedPage, len(images))
	for _, img := range images {
		byPage[img.PageNumber] = img
	}
	results := make([]models.PageResult, len(outcomes))
	for i, oc := range outcomes {
		results[i] = models.PageResult{
			Page:        oc.PageNumber,
			Text:        oc.Text,
			Translation: translations[i],
			ImagePath:   byPage[oc.PageNumber].ImagePath,
			OCRStatus:   oc.Status,
		}
	}
	return results
}
