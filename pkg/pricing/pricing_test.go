package pricing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pricing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFallbackLongestMatch(t *testing.T) {
	tests := []struct {
		model   string
		wantIn  float64
		wantOut float64
	}{
		{"anthropic.claude-3-haiku-20240307-v1:0", 0.00025, 0.00125},
		{"us.anthropic.claude-3-5-haiku-20241022-v1:0", 0.001, 0.005},
		{"us.anthropic.claude-sonnet-4-long-context-20250115-v1:0", 0.006, 0.0225},
		{"anthropic.claude-sonnet-4-20250514-v1:0", 0.003, 0.015},
		{"arn:aws:bedrock:us-east-1::foundation-model/anthropic.claude-3-opus-20240229-v1:0", 0.015, 0.075},
		{"mistral.unknown-model", 0.003, 0.015},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := Fallback(tt.model)
			assert.Equal(t, tt.model, got.Model)
			assert.Equal(t, tt.wantIn, got.InputRate)
			assert.Equal(t, tt.wantOut, got.OutputRate)
		})
	}
}

func TestCacheTTL(t *testing.T) {
	c := NewCache(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("m", "us-east-1", models.ModelPricing{Model: "m", InputRate: 1})
	_, ok := c.Get("m", "us-east-1")
	assert.True(t, ok)

	now = now.Add(4 * time.Minute)
	_, ok = c.Get("m", "us-east-1")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("m", "us-east-1")
	assert.False(t, ok, "entry must expire at the TTL")

	c.Invalidate()
	assert.Equal(t, 0, c.Len())
}

func TestStoreIgnoresExpiredRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, models.PricingEntry{
		Model: "fresh", Region: "us-east-1", InputRate: 0.001, OutputRate: 0.002,
		Source: models.PricingSourceAPI, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.Upsert(ctx, models.PricingEntry{
		Model: "stale", Region: "us-east-1", InputRate: 0.001, OutputRate: 0.002,
		Source: models.PricingSourceAPI, UpdatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	e, err := s.Lookup(ctx, "fresh", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.PricingSourceAPI, e.Source)
	assert.Equal(t, 0.002, e.OutputRate)

	_, err = s.Lookup(ctx, "stale", "us-east-1")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestResolverTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.Upsert(ctx, models.PricingEntry{
		Model: "custom.model", Region: "us-east-1", InputRate: 0.01, OutputRate: 0.02,
		Source: models.PricingSourceAPI, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	r := NewResolver(NewCache(5*time.Minute), s, "us-east-1", nil)

	rates, src := r.Rates(ctx, "custom.model", "")
	assert.Equal(t, SourceTable, src)
	assert.Equal(t, 0.01, rates.InputRate)

	rates, src = r.Rates(ctx, "custom.model", "us-east-1")
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, 0.02, rates.OutputRate)

	rates, src = r.Rates(ctx, "anthropic.claude-3-haiku-20240307-v1:0", "us-east-1")
	assert.Equal(t, SourceFallback, src)
	assert.Equal(t, 0.00025, rates.InputRate)
}

type failingStore struct{ calls int }

func (f *failingStore) Lookup(context.Context, string, string) (models.PricingEntry, error) {
	f.calls++
	return models.PricingEntry{}, errors.New("table unavailable")
}
func (f *failingStore) Upsert(context.Context, models.PricingEntry) error   { return nil }
func (f *failingStore) List(context.Context) ([]models.PricingEntry, error) { return nil, nil }
func (f *failingStore) Close() error                                        { return nil }

func TestResolverFallsBackOnStoreFailure(t *testing.T) {
	fs := &failingStore{}
	r := NewResolver(NewCache(time.Minute), fs, "", nil)
	r.retry.Initial = time.Millisecond

	rates, src := r.Rates(context.Background(), "amazon.nova-pro-v1:0", "eu-west-1")
	assert.Equal(t, SourceFallback, src)
	assert.Equal(t, 0.0008, rates.InputRate)
	assert.Equal(t, 2, fs.calls, "transient failures are retried")
}

func TestRefresherWritesSheetAndFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cache := NewCache(time.Minute)
	cache.Put("anthropic.claude-3-haiku", "us-east-1", models.ModelPricing{InputRate: 9})

	sheet := []models.ModelPricing{{Model: "anthropic.claude-3-haiku", InputRate: 0.0002, OutputRate: 0.001}}
	r := NewRefresher(s, cache, sheet, []string{"us-east-1", "us-west-2"}, 24*time.Hour)

	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*len(FallbackModels()), n)
	assert.Equal(t, 0, cache.Len())

	e, err := s.Lookup(ctx, "anthropic.claude-3-haiku", "us-west-2")
	require.NoError(t, err)
	assert.Equal(t, models.PricingSourceAPI, e.Source)
	assert.Equal(t, 0.0002, e.InputRate)
	assert.WithinDuration(t, e.UpdatedAt.Add(24*time.Hour), e.ExpiresAt, time.Second)

	e, err = s.Lookup(ctx, "amazon.nova-lite", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.PricingSourceFallback, e.Source)
}
