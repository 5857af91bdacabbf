// Package cost converts token counts into monetary cost.
package cost

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/pricing"
)

// CacheReadDiscount is the fraction of the input rate billed for cache reads.
const CacheReadDiscount = 0.1

// RateSource resolves per-1K rates for a (model, region) pair.
type RateSource interface {
	Rates(ctx context.Context, model, region string) (models.ModelPricing, pricing.Source)
}

// Calculator prices usage events.
type Calculator struct {
	rates RateSource
}

// New creates a Calculator over rates.
func New(rates RateSource) *Calculator {
	return &Calculator{rates: rates}
}

// Cost returns the cost of one invocation. It never fails: unknown models
// are priced at fallback rates.
func (c *Calculator) Cost(ctx context.Context, principal, model, region string, tokens models.TokenCounts) models.Money {
	rates, source := c.rates.Rates(ctx, model, region)
	cost := Compute(rates, tokens)
	log.Debug().
		Str("principal", principal).
		Str("model", model).
		Str("region", region).
		Str("pricing_source", string(source)).
		Int64("input_tokens", tokens.Input).
		Int64("output_tokens", tokens.Output).
		Int64("cache_write_tokens", tokens.CacheWrite).
		Int64("cache_read_tokens", tokens.CacheRead).
		Stringer("cost", cost).
		Msg("usage priced")
	return cost
}

// Compute applies per-1K rates: cache writes at the input rate, cache reads
// at CacheReadDiscount of the input rate. Negative counts count as zero.
func Compute(rates models.ModelPricing, tokens models.TokenCounts) models.Money {
	in := float64(nonNegative(tokens.Input))
	out := float64(nonNegative(tokens.Output))
	write := float64(nonNegative(tokens.CacheWrite))
	read := float64(nonNegative(tokens.CacheRead))

	dollars := (in*rates.InputRate +
		out*rates.OutputRate +
		write*rates.InputRate +
		read*rates.InputRate*CacheReadDiscount) / 1000
	if dollars < 0 {
		dollars = 0
	}
	return models.FromDollars(dollars)
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
