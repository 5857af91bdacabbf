package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeStarter struct {
	started []string
	err     error
}

func (f *fakeStarter) Start(_ context.Context, kind models.WorkflowKind, principal string, payload any) (models.WorkflowRun, error) {
	if f.err != nil {
		return models.WorkflowRun{}, f.err
	}
	p := payload.(models.RestorationPayload)
	if kind != models.WorkflowRestoration || p.Reason != ReasonWindowElapsed {
		return models.WorkflowRun{}, errors.New("unexpected start")
	}
	f.started = append(f.started, principal)
	return models.WorkflowRun{ID: "run-" + principal, Kind: kind, Principal: principal}, nil
}

func setup(t *testing.T) (*ledger.Ledger, *time.Time, *fakeStarter, *Sweeper) {
	t.Helper()
	now := t0
	cfg := config.Default()
	cfg.Ledger.PageSize = 2
	l := ledger.New(ledger.NewMemoryStore(), config.Static(cfg), nil, ledger.WithClock(func() time.Time { return now }))
	starter := &fakeStarter{}
	return l, &now, starter, New(l, starter)
}

func seed(t *testing.T, l *ledger.Ledger, id string, status models.Status) {
	t.Helper()
	ctx := context.Background()
	_, err := l.Create(ctx, id, models.AccountTypeAPIKey, models.FromDollars(5))
	require.NoError(t, err)
	_, err = l.AccrueSpend(ctx, id, "m", models.FromDollars(6))
	require.NoError(t, err)
	if status != models.StatusActive {
		ok, err := l.Store().Transition(ctx, id, ledger.Transition{To: status, GraceDeadline: t0.Add(time.Hour), At: t0})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestSweepNothingDue(t *testing.T) {
	l, _, starter, s := setup(t)
	seed(t, l, "a", models.StatusActive)

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Empty(t, starter.started)
}

func TestSweepDispatchesByStatus(t *testing.T) {
	l, now, starter, s := setup(t)
	seed(t, l, "active", models.StatusActive)
	seed(t, l, "grace", models.StatusGracePeriod)
	seed(t, l, "restricted", models.StatusRestricted)
	seed(t, l, "suspended", models.StatusSuspended)
	*now = t0.Add(31 * 24 * time.Hour)

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Due)
	assert.Equal(t, 1, rep.Reset)
	assert.Equal(t, 1, rep.Restorations)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, []string{"suspended"}, starter.started)

	ctx := context.Background()
	active, _ := l.Get(ctx, "active")
	assert.Equal(t, models.Money(0), active.Spent)
	assert.Equal(t, *now, active.PeriodStart)
	assert.Equal(t, active.PeriodStart.Add(30*24*time.Hour), active.RefreshDate)
	assert.Equal(t, 1, active.RefreshCount)
	assert.Nil(t, active.RestoredAt, "in-place reset is not a restoration")

	suspended, _ := l.Get(ctx, "suspended")
	assert.Equal(t, models.StatusSuspended, suspended.Status, "restoration happens in the workflow")
	grace, _ := l.Get(ctx, "grace")
	assert.Equal(t, models.FromDollars(6), grace.Spent)
}

func TestSweepToleratesRunningRestoration(t *testing.T) {
	l, now, starter, s := setup(t)
	seed(t, l, "suspended", models.StatusSuspended)
	*now = t0.Add(31 * 24 * time.Hour)
	starter.err = workflow.ErrAlreadyRunning

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Errors)
}

func TestSweepCountsStartFailures(t *testing.T) {
	l, now, starter, s := setup(t)
	seed(t, l, "suspended", models.StatusSuspended)
	*now = t0.Add(31 * 24 * time.Hour)
	starter.err = errors.New("run store unavailable")

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
}

func TestSecondSweepIsNoop(t *testing.T) {
	l, now, _, s := setup(t)
	seed(t, l, "active", models.StatusActive)
	*now = t0.Add(30 * 24 * time.Hour)

	first, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Reset)

	second, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Due)
}
