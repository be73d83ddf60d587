package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalErrorStopsImmediately(t *testing.T) {
	calls := 0
	badRequest := &StatusError{StatusCode: http.StatusBadRequest}
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, badRequest
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, badRequest)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(4), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, &StatusError{StatusCode: http.StatusTooManyRequests}
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}

	calls := 0
	_, err := Retry(ctx, policy, "test", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, &StatusError{StatusCode: http.StatusBadGateway}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))

	p.MaxJitter = 50 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := p.Backoff(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 250*time.Millisecond)
	}
}

func TestCallWithRetry(t *testing.T) {
	calls := 0
	model := ModelFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("read tcp: connection reset by peer")
		}
		return &Response{Text: req.Messages[0].Text, FinishReason: FinishStop}, nil
	})

	resp, err := CallWithRetry(context.Background(), model, fastPolicy(2), "echo", Request{Messages: []Message{UserText("hello")}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 2, calls)
}
