// Package pricing resolves per-1K token rates for a (model, region) pair.
//
// Resolution order is the in-process Cache, then the persistent Store, then
// the static fallback table. Lookups never fail: an unknown model resolves to
// DefaultRates.
package pricing

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/retry"
)

// Source names the tier that answered a lookup.
type Source string

const (
	SourceCache    Source = "cache"
	SourceTable    Source = "table"
	SourceFallback Source = "fallback"
)

// Resolver looks up rates through the cache, table and fallback tiers.
type Resolver struct {
	cache         *Cache
	store         Store
	defaultRegion string
	retry         retry.Policy
	metrics       *metrics.Metrics
}

// NewResolver creates a Resolver. store may be nil, in which case only the
// cache and fallback tiers are used.
func NewResolver(cache *Cache, store Store, defaultRegion string, m *metrics.Metrics) *Resolver {
	if defaultRegion == "" {
		defaultRegion = "us-east-1"
	}
	return &Resolver{
		cache:         cache,
		store:         store,
		defaultRegion: defaultRegion,
		retry:         retry.Policy{MaxTries: 2},
		metrics:       m,
	}
}

// Rates returns the per-1K rates for (model, region).
func (r *Resolver) Rates(ctx context.Context, model, region string) (models.ModelPricing, Source) {
	if region == "" {
		region = r.defaultRegion
	}

	if rates, ok := r.cache.Get(model, region); ok {
		r.metrics.PricingLookup(string(SourceCache))
		return rates, SourceCache
	}

	if r.store != nil {
		entry, err := retry.Do(ctx, r.retry, func() (models.PricingEntry, error) {
			e, err := r.store.Lookup(ctx, model, region)
			if errors.Is(err, ErrNotFound) {
				return e, retry.Permanent(err)
			}
			return e, err
		})
		switch {
		case err == nil:
			rates := entry.Rates()
			r.cache.Put(model, region, rates)
			r.metrics.PricingLookup(string(SourceTable))
			return rates, SourceTable
		case errors.Is(err, ErrNotFound):
			log.Debug().Str("model", model).Str("region", region).Msg("no pricing row, using fallback")
		default:
			log.Warn().Err(err).Str("model", model).Str("region", region).Msg("pricing table lookup failed, using fallback")
		}
	}

	r.metrics.PricingLookup(string(SourceFallback))
	return Fallback(model), SourceFallback
}
