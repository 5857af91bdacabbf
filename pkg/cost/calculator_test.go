package cost

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/pricing"
)

var sonnet = models.ModelPricing{Model: "sonnet", InputRate: 0.003, OutputRate: 0.015}

func TestCompute(t *testing.T) {
	tests := []struct {
		name   string
		tokens models.TokenCounts
		want   models.Money
	}{
		{"input and output", models.TokenCounts{Input: 1000, Output: 1000}, models.FromDollars(0.018)},
		{"cache read discount", models.TokenCounts{Input: 1000, Output: 1000, CacheRead: 1000}, models.FromDollars(0.0183)},
		{"cache write at input rate", models.TokenCounts{CacheWrite: 1000}, models.FromDollars(0.003)},
		{"zero", models.TokenCounts{}, 0},
		{"negative counts ignored", models.TokenCounts{Input: -500, Output: 1000}, models.FromDollars(0.015)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(sonnet, tt.tokens))
		})
	}
}

func TestComputeSaturatesHugeCounts(t *testing.T) {
	opus := models.ModelPricing{InputRate: 0.015, OutputRate: 0.075}
	for _, n := range []int64{1e14, 1e15, math.MaxInt64} {
		got := Compute(opus, models.TokenCounts{Output: n})
		assert.GreaterOrEqual(t, got, models.Money(0), "output tokens %d", n)
	}
	assert.Equal(t, models.Money(math.MaxInt64), Compute(opus, models.TokenCounts{Output: math.MaxInt64}))
	assert.Equal(t, models.Money(math.MaxInt64), models.FromDollars(1e12))
	assert.Equal(t, models.Money(0), models.FromDollars(math.NaN()))
}

func TestCacheReadAddsTenthOfInputRate(t *testing.T) {
	base := Compute(sonnet, models.TokenCounts{Input: 1000, Output: 1000})
	withRead := Compute(sonnet, models.TokenCounts{Input: 1000, Output: 1000, CacheRead: 1000})
	assert.Equal(t, models.FromDollars(0.0003), withRead-base)
}

func TestCalculatorUnknownModelUsesDefaults(t *testing.T) {
	c := New(pricing.NewResolver(pricing.NewCache(5*time.Minute), nil, "us-east-1", nil))
	got := c.Cost(context.Background(), "p1", "vendor.unknown-v1", "", models.TokenCounts{Input: 1000, Output: 1000})
	assert.Equal(t, models.FromDollars(0.018), got)
}

func TestComputeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	tokens := gen.Int64Range(0, 5_000_000)

	properties.Property("cost is never negative", prop.ForAll(
		func(in, out, w, r int64) bool {
			return Compute(sonnet, models.TokenCounts{Input: in, Output: out, CacheWrite: w, CacheRead: r}) >= 0
		},
		tokens, tokens, tokens, tokens,
	))

	properties.Property("cache reads never cost more than plain input", prop.ForAll(
		func(n int64) bool {
			return Compute(sonnet, models.TokenCounts{CacheRead: n}) <= Compute(sonnet, models.TokenCounts{Input: n})
		},
		tokens,
	))

	properties.Property("cache writes cost the same as plain input", prop.ForAll(
		func(n int64) bool {
			return Compute(sonnet, models.TokenCounts{CacheWrite: n}) == Compute(sonnet, models.TokenCounts{Input: n})
		},
		tokens,
	))

	properties.TestingRun(t)
}
