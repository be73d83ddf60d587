// Package ocr extracts page text by prompting a vision model, escalating
// through fallback prompts when the model refuses or returns nothing useful.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/classify"
	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
)

const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.1
	// minImageBytes rejects buffers too small to be an encoded page.
	minImageBytes = 100
)

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy sets the policy for first-pass and diagnostic calls.
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCascade replaces the refusal cascade.
func WithCascade(s []Strategy) Option {
	return func(e *Engine) { e.cascade = s }
}

// WithClassifier replaces the response classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithMaxTokens sets the completion token limit per call.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// Engine runs OCR one page at a time.
type Engine struct {
	model       llm.Model
	classifier  *classify.Classifier
	policy      llm.RetryPolicy
	cascade     []Strategy
	maxTokens   int
	temperature float64
}

// New creates an Engine around model.
func New(model llm.Model, opts ...Option) *Engine {
	e := &Engine{
		model:       model,
		classifier:  classify.New(),
		policy:      llm.DefaultRetryPolicy(),
		cascade:     DefaultCascade(),
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText runs OCR over pages in order. A user cancellation aborts with
// cancel.ErrCancelled; every other failure is folded into that page's outcome.
func (e *Engine) ExtractText(ctx context.Context, pages []models.RasterizedPage, language string, span progress.Span, customPrompt string, check cancel.Checker) ([]models.OCROutcome, error) {
	if check == nil {
		check = cancel.Never
	}
	outcomes := make([]models.OCROutcome, 0, len(pages))
	counts := make(map[models.OCRStatus]int)

	for i, page := range pages {
		if err := check.Check(); err != nil {
			slog.Info("OCR stopped by user cancellation.", "page", page.PageNumber, "completed", i)
			return nil, err
		}

		outcome := e.ExtractPage(ctx, page, language, customPrompt)
		outcomes = append(outcomes, outcome)
		counts[outcome.Status]++
		metrics.OCROutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()

		span.Report(i+1, len(pages), fmt.Sprintf("Extracted text from page %d (%d of %d)", page.PageNumber, i+1, len(pages)))
	}

	slog.Info("OCR complete.",
		"pages", len(outcomes),
		"success", counts[models.OCRSuccess],
		"masked", counts[models.OCRMasked],
		"moderated", counts[models.OCRModerated],
		"failedEmpty", counts[models.OCRFailedEmpty],
		"technicalError", counts[models.OCRTechnicalError],
	)
	return outcomes, nil
}

// ExtractPage produces the outcome for a single page.
func (e *Engine) ExtractPage(ctx context.Context, page models.RasterizedPage, language, customPrompt string) models.OCROutcome {
	logCtx := slog.With("page", page.PageNumber, "language", language)

	if len(page.Image) < minImageBytes {
		logCtx.Error("Page image missing or too small.", "bytes", len(page.Image))
		return models.OCROutcome{
			PageNumber: page.PageNumber,
			Text:       fmt.Sprintf("[OCR failed for page %d: invalid image data]", page.PageNumber),
			Status:     models.OCRTechnicalError,
		}
	}

	req := e.request(llm.UserImage(BasePrompt(language, customPrompt), page.Image))
	resp, err := llm.CallWithRetry(ctx, e.model, e.policy, "ocr", req)
	if err != nil {
		logCtx.Error("OCR call failed.", "errorClass", "technical", "error", err)
		return models.OCROutcome{
			PageNumber: page.PageNumber,
			Text:       fmt.Sprintf("[OCR failed for page %d: %v]", page.PageNumber, err),
			Status:     models.OCRTechnicalError,
		}
	}

	verdict := e.classifier.Classify(resp.Text, classify.MetadataFrom(resp, e.maxTokens))
	logCtx = logCtx.With("verdict", verdict.FailureType)

	switch verdict.FailureType {
	case classify.ContentPolicyViolation, classify.ContentFilterTriggered:
		logCtx.Warn("OCR response refused, starting fallback cascade.", "category", verdict.Category, "reason", verdict.Reason)
		return e.recoverRefusal(ctx, logCtx, page, language, verdict)

	case classify.OCRQualityIssue:
		logCtx.Warn("OCR response reports no readable text, requesting diagnosis.", "reason", verdict.Reason)
		explanation := e.diagnose(ctx, logCtx, page, describeImagePrompt)
		return models.OCROutcome{
			PageNumber:  page.PageNumber,
			Text:        fmt.Sprintf("[No text extracted from page %d]\nExplanation: %s\n\nOriginal response: %s", page.PageNumber, explanation, strings.TrimSpace(resp.Text)),
			Status:      models.OCRFailedEmpty,
			FailureType: verdict.FailureType,
		}

	case classify.TruncatedResponse, classify.MinimalResponse:
		logCtx.Warn("OCR response may be incomplete, keeping it.", "reason", verdict.Reason, "completionTokens", resp.CompletionTokens)
	}

	return models.OCROutcome{
		PageNumber:  page.PageNumber,
		Text:        resp.Text,
		Status:      statusFor(resp.Text),
		FailureType: verdict.FailureType,
	}
}

func (e *Engine) recoverRefusal(ctx context.Context, logCtx *slog.Logger, page models.RasterizedPage, language string, verdict classify.Verdict) models.OCROutcome {
	category := verdict.Category
	if category == "" {
		category = classify.CategoryGeneral
	}
	pc := PromptContext{Page: page.PageNumber, Language: language, Category: category, Image: page.Image}

	if text, name, ok := e.runCascade(ctx, logCtx, pc); ok {
		logCtx.Info("Fallback strategy recovered page text.", "strategy", name)
		return models.OCROutcome{
			PageNumber:  page.PageNumber,
			Text:        text,
			Status:      statusFor(text),
			FailureType: verdict.FailureType,
		}
	}

	logCtx.Error("All fallback strategies refused.", "errorClass", "moderation", "category", category)
	explanation := e.diagnose(ctx, logCtx, page, explainRefusalPrompt)
	return models.OCROutcome{
		PageNumber:  page.PageNumber,
		Text:        fmt.Sprintf("%s Page %d could not be transcribed because of content moderation (%s).\nExplanation: %s", Marker, page.PageNumber, category, explanation),
		Status:      models.OCRModerated,
		FailureType: verdict.FailureType,
	}
}

// runCascade tries each strategy in order and returns the first response
// that is neither a refusal nor filtered.
func (e *Engine) runCascade(ctx context.Context, logCtx *slog.Logger, pc PromptContext) (string, string, bool) {
	for _, s := range e.cascade {
		if ctx.Err() != nil {
			return "", "", false
		}
		policy := e.policy.WithAttempts(s.MaxAttempts, s.BaseDelay)
		resp, err := llm.CallWithRetry(ctx, e.model, policy, "ocr_"+s.Name, e.request(s.Build(pc)...))
		if err != nil {
			metrics.FallbackStrategyTotal.WithLabelValues(s.Name, "error").Inc()
			logCtx.Warn("Fallback strategy failed.", "strategy", s.Name, "errorClass", "technical", "error", err)
			continue
		}

		v := e.classifier.Classify(resp.Text, classify.MetadataFrom(resp, e.maxTokens))
		if v.IsRefusal() || v.FailureType == classify.ContentFilterTriggered || strings.TrimSpace(resp.Text) == "" {
			metrics.FallbackStrategyTotal.WithLabelValues(s.Name, "refused").Inc()
			logCtx.Warn("Fallback strategy refused.", "strategy", s.Name, "verdict", v.FailureType)
			continue
		}
		metrics.FallbackStrategyTotal.WithLabelValues(s.Name, "recovered").Inc()
		return resp.Text, s.Name, true
	}
	return "", "", false
}

// diagnose asks the model to explain a failure. It never fails the page.
func (e *Engine) diagnose(ctx context.Context, logCtx *slog.Logger, page models.RasterizedPage, prompt string) string {
	resp, err := llm.CallWithRetry(ctx, e.model, e.policy, "ocr_diagnostic", e.request(llm.UserImage(prompt, page.Image)))
	if err != nil {
		logCtx.Warn("Diagnostic call failed.", "error", err)
		return "no explanation available"
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "no explanation available"
	}
	return text
}

func (e *Engine) request(msgs ...llm.Message) llm.Request {
	return llm.Request{Messages: msgs, MaxTokens: e.maxTokens, Temperature: e.temperature}
}

func statusFor(text string) models.OCRStatus {
	if strings.Contains(text, Marker) {
		return models.OCRMasked
	}
	return models.OCRSuccess
}
