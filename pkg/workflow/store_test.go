package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingRun(id, principal string) models.WorkflowRun {
	return models.WorkflowRun{
		ID:        id,
		Kind:      models.WorkflowSuspension,
		Principal: principal,
		State:     models.RunPending,
		Step:      StepNotifyGraceStart,
		Payload:   []byte(`{"grace_seconds":300}`),
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func TestClaimLeasesExclusively(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Insert(ctx, pendingRun("r1", "u1"), "u1:suspend")
	require.NoError(t, err)

	a, err := s.Claim(ctx, "runner-a", t0, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.JSONEq(t, `{"grace_seconds":300}`, string(a[0].Payload))

	b, err := s.Claim(ctx, "runner-b", t0.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, b, "lease still held")

	run := a[0]
	run.Step = StepWaitGrace
	assert.ErrorIs(t, s.Save(ctx, "runner-b", run), ErrLeaseLost)
	assert.NoError(t, s.Save(ctx, "runner-a", run))

	c, err := s.Claim(ctx, "runner-b", t0.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, c, 1, "expired lease can be taken over")
}

func TestTerminalRunFreesKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Insert(ctx, pendingRun("r1", "u1"), "u1:suspend")
	require.NoError(t, err)

	_, err = s.Insert(ctx, pendingRun("r2", "u1"), "u1:suspend")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	runs, err := s.Claim(ctx, "me", t0, time.Minute, 1)
	require.NoError(t, err)
	run := runs[0]
	run.State = models.RunSucceeded
	require.NoError(t, s.Save(ctx, "me", run))

	_, err = s.Insert(ctx, pendingRun("r2", "u1"), "u1:suspend")
	assert.NoError(t, err)
}

func TestWaitingRunNotDueEarly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := pendingRun("r1", "u1")
	wake := t0.Add(5 * time.Minute)
	run.State = models.RunWaiting
	run.WakeAt = &wake
	_, err := s.Insert(ctx, run, "u1:suspend")
	require.NoError(t, err)

	due, err := s.Claim(ctx, "me", t0.Add(4*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.Claim(ctx, "me", wake, time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestListFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, pendingRun("r1", "u1"), "u1:suspend")
	_, _ = s.Insert(ctx, pendingRun("r2", "u2"), "u2:suspend")

	runs, err := s.List(ctx, Filter{Principal: "u2"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)

	runs, err = s.List(ctx, Filter{State: models.RunSucceeded})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
