// Package translate renders extracted page text into English while keeping
// content markers intact.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/classify"
	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
)

// Marker is the content marker that must survive translation.
const Marker = models.ContentMarker

const (
	DefaultMaxTokens   = 8192
	DefaultTemperature = 0.2
)

// UnavailablePrefix starts the text returned when every prompt was refused.
const UnavailablePrefix = "[Translation unavailable: "

var markerVariant = regexp.MustCompile(`(?i)\[\s*content[\s_-]*trigger\s*\]`)

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy sets the retry policy for translation calls.
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// Engine translates one page of text per call.
type Engine struct {
	model       llm.Model
	policy      llm.RetryPolicy
	maxTokens   int
	temperature float64
}

// New creates an Engine around model.
func New(model llm.Model, opts ...Option) *Engine {
	e := &Engine{
		model:       model,
		policy:      llm.DefaultRetryPolicy(),
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Translate returns the English rendering of text. Refusals degrade into
// an explanatory prefix plus the original text; only cancellation and
// exhausted retries return an error.
func (e *Engine) Translate(ctx context.Context, text, sourceLanguage, customPrompt string, check cancel.Checker) (string, error) {
	if check != nil {
		if err := check.Check(); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(markerVariant.ReplaceAllString(text, "")) == "" {
		return text, nil
	}

	out, err := e.call(ctx, BuildPrompt(text, sourceLanguage, customPrompt), "translate")
	if err != nil {
		return "", err
	}

	if classify.IsRefusal(out) {
		slog.Warn("Translation refused, retrying with minimal prompt.", "language", sourceLanguage)
		out, err = e.call(ctx, fallbackPrompt(text), "translate_fallback")
		if err != nil {
			return "", err
		}
		if classify.IsRefusal(out) {
			slog.Warn("Translation refused twice, returning original text.", "language", sourceLanguage)
			return UnavailablePrefix + "the model declined to translate this page. Original text follows.]\n\n" + text, nil
		}
	}

	return EnsureMarkers(text, out), nil
}

func (e *Engine) call(ctx context.Context, prompt, operation string) (string, error) {
	req := llm.Request{
		Messages:    []llm.Message{llm.UserText(prompt)},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	}
	resp, err := llm.CallWithRetry(ctx, e.model, e.policy, operation, req)
	if err != nil {
		return "", fmt.Errorf("translation call failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// EnsureMarkers normalises marker variants in translated and appends any
// markers the model dropped, so the output carries at least as many as source.
func EnsureMarkers(source, translated string) string {
	out := markerVariant.ReplaceAllString(translated, Marker)
	want := strings.Count(markerVariant.ReplaceAllString(source, Marker), Marker)
	if missing := want - strings.Count(out, Marker); missing > 0 {
		out = strings.TrimRight(out, "\n") + strings.Repeat("\n"+Marker, missing)
	}
	return out
}
