// Package retry applies exponential backoff to transient dependency failures.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop. Zero fields fall back to the defaults of Default.
type Policy struct {
	MaxTries   uint
	MaxElapsed time.Duration
	Initial    time.Duration
}

// Default is used for access controller and pricing table calls.
var Default = Policy{MaxTries: 3, MaxElapsed: 30 * time.Second, Initial: 200 * time.Millisecond}

// Do runs op until it succeeds, returns a Permanent error, or the policy is exhausted.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	if p.MaxTries == 0 {
		p.MaxTries = Default.MaxTries
	}
	if p.MaxElapsed == 0 {
		p.MaxElapsed = Default.MaxElapsed
	}
	if p.Initial == 0 {
		p.Initial = Default.Initial
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
