package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying Model.
type RateLimited struct {
	model   Model
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one.
// A non-positive perMinute returns the model unwrapped.
func NewRateLimited(model Model, perMinute int) Model {
	if perMinute <= 0 {
		return model
	}
	return &RateLimited{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(perMinute)/60, 1),
	}
}

// Call waits for a token then delegates.
func (r *RateLimited) Call(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return r.model.Call(ctx, req)
}
