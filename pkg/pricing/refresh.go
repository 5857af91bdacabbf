package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// Refresher rewrites the pricing table from the configured price sheet and
// the static fallback table.
type Refresher struct {
	store   Store
	cache   *Cache
	sheet   []models.ModelPricing
	regions []string
	ttl     time.Duration
	now     func() time.Time
}

// NewRefresher creates a Refresher. sheet entries are written with source
// "api"; fallback models not present in sheet are written with source "fallback".
func NewRefresher(store Store, cache *Cache, sheet []models.ModelPricing, regions []string, ttl time.Duration) *Refresher {
	if len(regions) == 0 {
		regions = []string{"us-east-1"}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Refresher{store: store, cache: cache, sheet: sheet, regions: regions, ttl: ttl, now: time.Now}
}

// Run writes one row per model and region and invalidates the local cache.
// It returns the number of rows written.
func (r *Refresher) Run(ctx context.Context) (int, error) {
	now := r.now().UTC()

	entries := make(map[string]models.PricingEntry)
	for _, p := range FallbackModels() {
		entries[p.Model] = models.PricingEntry{
			Model: p.Model, InputRate: p.InputRate, OutputRate: p.OutputRate,
			Source: models.PricingSourceFallback,
		}
	}
	for _, p := range r.sheet {
		entries[p.Model] = models.PricingEntry{
			Model: p.Model, InputRate: p.InputRate, OutputRate: p.OutputRate,
			Source: models.PricingSourceAPI,
		}
	}

	written := 0
	for _, region := range r.regions {
		for _, e := range entries {
			e.Region = region
			e.UpdatedAt = now
			e.ExpiresAt = now.Add(r.ttl)
			if err := r.store.Upsert(ctx, e); err != nil {
				return written, fmt.Errorf("refresh pricing %s/%s: %w", e.Model, region, err)
			}
			written++
		}
	}

	if r.cache != nil {
		r.cache.Invalidate()
	}
	log.Info().Int("entries", written).Int("regions", len(r.regions)).Msg("pricing table refreshed")
	return written, nil
}
