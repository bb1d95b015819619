package host

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	"github.com/lumen-ide/lumen/errors"
)

// RateLimited wraps an Invoker with a token-bucket limit. One limiter is
// created per loaded extension, so a runaway extension exhausts its own
// budget without starving the others.
type RateLimited struct {
	inner   Invoker
	limiter *rate.Limiter
}

// NewRateLimited creates a per-extension rate-limited view of inner.
func NewRateLimited(inner Invoker, callsPerSecond float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), burst),
	}
}

// Invoke consumes one token, failing the call as a host-call error when
// the budget is exhausted instead of queueing indefinitely.
func (r *RateLimited) Invoke(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	if !r.limiter.Allow() {
		reservation := r.limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()
		return nil, errors.NewHostCallError(
			errors.Newf("rate limit exceeded, retry in %s", delay), command)
	}
	return r.inner.Invoke(ctx, command, args)
}
