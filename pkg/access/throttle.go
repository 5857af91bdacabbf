package access

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/retry"
)

// Throttled rate-limits and retries calls to another Controller.
type Throttled struct {
	next    Controller
	limiter *rate.Limiter
	policy  retry.Policy
	metrics *metrics.Metrics
}

// NewThrottled wraps next. A non-positive perSecond disables rate limiting.
func NewThrottled(next Controller, perSecond float64, burst int, policy retry.Policy, m *metrics.Metrics) *Throttled {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		policy:  policy,
		metrics: m,
	}
}

func call[T any](ctx context.Context, t *Throttled, op string, fn func() (T, error)) (T, error) {
	res, err := retry.Do(ctx, t.policy, func() (T, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, retry.Permanent(err)
		}
		return fn()
	})
	t.metrics.AccessCall(op, err)
	return res, err
}

func (t *Throttled) Revoke(ctx context.Context, principal string) (bool, error) {
	return call(ctx, t, "revoke", func() (bool, error) { return t.next.Revoke(ctx, principal) })
}

func (t *Throttled) Grant(ctx context.Context, principal string) (bool, error) {
	return call(ctx, t, "grant", func() (bool, error) { return t.next.Grant(ctx, principal) })
}

func (t *Throttled) IsRevoked(ctx context.Context, principal string) (bool, error) {
	return call(ctx, t, "is_revoked", func() (bool, error) { return t.next.IsRevoked(ctx, principal) })
}

func (t *Throttled) ValidateRestriction(ctx context.Context, principal string) (bool, error) {
	return call(ctx, t, "validate_restriction", func() (bool, error) { return t.next.ValidateRestriction(ctx, principal) })
}

func (t *Throttled) Close() error {
	return t.next.Close()
}
