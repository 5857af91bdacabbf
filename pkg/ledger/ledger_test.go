package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/models"
)

func newLedger(t *testing.T, s Store) (*Ledger, *events.Recorder) {
	t.Helper()
	cfg := config.Default()
	cfg.Budget.DefaultLimit = 1
	cfg.Ledger.PageSize = 2
	rec := &events.Recorder{}
	return New(s, config.Static(cfg), rec, WithClock(func() time.Time { return t0 })), rec
}

func TestAccrueSpendAutoCreates(t *testing.T) {
	l, rec := newLedger(t, NewMemoryStore())
	ctx := context.Background()

	acct, err := l.AccrueSpend(ctx, "new-user", "claude", models.FromDollars(0.25))
	require.NoError(t, err)
	assert.Equal(t, models.FromDollars(0.25), acct.Spent)
	assert.Equal(t, models.FromDollars(1), acct.BudgetLimit)
	assert.True(t, acct.AutoCreated)
	assert.Equal(t, t0.AddDate(0, 0, 30), acct.RefreshDate)
	assert.Equal(t, 1, rec.Count(models.EventBudgetAutoCreated))
}

func TestAccrueSpendConcurrentFirstUse(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l, rec := newLedger(t, s)
			ctx := context.Background()

			const n = 20
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := l.AccrueSpend(ctx, "burst", "claude", models.FromDollars(0.01))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := l.Get(ctx, "burst")
			require.NoError(t, err)
			assert.Equal(t, models.FromDollars(0.2), got.Spent)
			assert.Equal(t, 1, rec.Count(models.EventBudgetAutoCreated))
		})
	}
}

func TestAccrueSpendRejectsNegative(t *testing.T) {
	l, _ := newLedger(t, NewMemoryStore())
	_, err := l.AccrueSpend(context.Background(), "p", "m", -1)
	assert.ErrorIs(t, err, ErrNegativeCost)
}

func TestThresholdChangedEvents(t *testing.T) {
	l, rec := newLedger(t, NewMemoryStore())
	ctx := context.Background()
	_, err := l.Create(ctx, "p1", models.AccountTypeAPIKey, models.FromDollars(1))
	require.NoError(t, err)

	steps := []struct {
		cost float64
		want models.ThresholdState
	}{
		{0.5, models.ThresholdNormal},
		{0.2, models.ThresholdWarning},
		{0.05, models.ThresholdWarning},
		{0.2, models.ThresholdCritical},
		{0.3, models.ThresholdCritical},
	}
	for _, s := range steps {
		_, err := l.AccrueSpend(ctx, "p1", "m", models.FromDollars(s.cost))
		require.NoError(t, err)
		got, _ := l.Get(ctx, "p1")
		assert.Equal(t, s.want, got.ThresholdState)
		assert.Equal(t, models.StatusActive, got.Status, "classification never changes status")
	}
	assert.Equal(t, 2, rec.Count(models.EventThresholdChanged))
}

func TestBeginGraceExactlyOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l, _ := newLedger(t, s)
			ctx := context.Background()
			_, err := s.Create(ctx, account("p1", 1, 1.2))
			require.NoError(t, err)

			var mu sync.Mutex
			wins := 0
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.BeginGrace(ctx, "p1", t0.Add(5*time.Minute))
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestTransitionIdempotent(t *testing.T) {
	l, _ := newLedger(t, NewMemoryStore())
	ctx := context.Background()
	_, err := l.Create(ctx, "p1", models.AccountTypeAPIKey, models.FromDollars(1))
	require.NoError(t, err)

	ok, err := l.TransitionTo(ctx, "p1", models.StatusActive, models.StatusSuspended)
	require.NoError(t, err)
	assert.False(t, ok, "restoring an active account is a no-op")

	ok, err = l.ResetPeriod(ctx, "p1", models.StatusSuspended)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateExisting(t *testing.T) {
	l, _ := newLedger(t, NewMemoryStore())
	ctx := context.Background()
	_, err := l.Create(ctx, "p1", "", models.FromDollars(1))
	require.NoError(t, err)
	_, err = l.Create(ctx, "p1", "", models.FromDollars(2))
	assert.ErrorIs(t, err, ErrExists)

	created, err := l.Ensure(ctx, "p1", models.AccountTypeAPIKey, "CreateUser")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEachVisitsAllPages(t *testing.T) {
	l, _ := newLedger(t, NewMemoryStore())
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := l.Create(ctx, id, "", models.FromDollars(1))
		require.NoError(t, err)
	}
	var seen []string
	err := l.Each(ctx, func(a models.BudgetAccount) error {
		seen = append(seen, a.PrincipalID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestAccrualIsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("final spend is the sum of all costs", prop.ForAll(
		func(costs []int64) bool {
			l, _ := newLedger(t, NewMemoryStore())
			ctx := context.Background()
			var want models.Money
			var wg sync.WaitGroup
			for _, c := range costs {
				want += models.Money(c)
				wg.Add(1)
				go func(c int64) {
					defer wg.Done()
					_, _ = l.AccrueSpend(ctx, "p", "m", models.Money(c))
				}(c)
			}
			wg.Wait()
			if len(costs) == 0 {
				return true
			}
			got, err := l.Get(ctx, "p")
			return err == nil && got.Spent == want
		},
		gen.SliceOf(gen.Int64Range(0, 5_000_000_000)),
	))

	properties.TestingRun(t)
}
