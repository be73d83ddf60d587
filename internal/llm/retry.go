package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMaxJitter   = 1000 * time.Millisecond
)

// RetryPolicy controls the exponential backoff around one external call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxJitter bounds the random delay added to each backoff. Zero disables jitter.
	MaxJitter time.Duration
}

// DefaultRetryPolicy returns three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxJitter:   defaultMaxJitter,
	}
}

// WithAttempts returns a copy of the policy with different attempt/delay values.
func (p RetryPolicy) WithAttempts(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	p.MaxAttempts = maxAttempts
	p.BaseDelay = baseDelay
	return p
}

// Backoff returns the wait before the attempt following attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.MaxJitter > 0 {
		backoff += time.Duration(rand.Int64N(int64(p.MaxJitter)))
	}
	return backoff
}

// Retry invokes call until it succeeds, fails with a non-retryable error, or
// the policy's attempts are exhausted. The last error is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logCtx := slog.With("operation", operation)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := call(ctx)
		if err == nil {
			if attempt > 1 {
				logCtx.Info("Call succeeded after retry.", "attempt", attempt)
			}
			metrics.ModelCallsTotal.WithLabelValues(operation, "success").Inc()
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			metrics.ModelCallsTotal.WithLabelValues(operation, "fatal_error").Inc()
			logCtx.Warn("Call failed with non-retryable error.", "attempt", attempt, "error", err)
			return zero, err
		}
		metrics.ModelCallsTotal.WithLabelValues(operation, "retryable_error").Inc()

		if attempt == maxAttempts {
			break
		}

		backoff := policy.Backoff(attempt)
		logCtx.Warn("Call failed, will retry.",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		metrics.RetriesTotal.WithLabelValues(operation).Inc()

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			logCtx.Warn("Context cancelled during backoff. Aborting retries.", "error", ctx.Err())
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	logCtx.Error("Call failed after all retries.", "maxAttempts", maxAttempts, "error", lastErr)
	return zero, fmt.Errorf("%s failed after %d attempts: %w", operation, maxAttempts, lastErr)
}

// CallWithRetry is Retry specialised to a single Model call.
func CallWithRetry(ctx context.Context, model Model, policy RetryPolicy, operation string, req Request) (*Response, error) {
	return Retry(ctx, policy, operation, func(ctx context.Context) (*Response, error) {
		return model.Call(ctx, req)
	})
}
