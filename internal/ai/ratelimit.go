package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/casefile/pkg/models"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying provider so concurrent
// pipeline runs share one request budget.
type RateLimited struct {
	next    models.AIProvider
	limiter *rate.Limiter
}

func NewRateLimited(next models.AIProvider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.GenerationResult{}, ctx.Err()
		}
		return models.GenerationResult{}, fmt.Errorf("%w: waiting for rate limiter: %v", ErrInferenceTimeout, err)
	}
	return r.next.Generate(ctx, req)
}

var _ models.AIProvider = (*RateLimited)(nil)
