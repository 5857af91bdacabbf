package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/access"
	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

func TestSweepDrivesSuspensionRunToRevocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	store, err := workflow.NewStore(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	keys := access.NewMemory()
	reg := access.NewRegistry()
	reg.Register(models.AccountTypeAPIKey, keys)

	deps := workflow.Deps{Ledger: f.ledger, Access: reg, Events: f.events}
	engine := workflow.NewEngine(store, f.cfg.Workflow, workflow.WithClock(f.clock))
	engine.Register(workflow.Suspension(deps))
	mon := New(f.ledger, engine, func(ctx context.Context, p string, pl models.SuspensionPayload) error {
		return workflow.SuspendNow(ctx, deps, p, pl)
	}, config.Static(f.cfg), f.events, nil)

	f.account(t, "alex", 1, 2)

	rep, err := mon.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.GraceStarted)
	assert.Equal(t, 1, f.events.Count(models.EventGraceStarted))

	_, err = engine.RunDue(ctx)
	require.NoError(t, err)
	runs, err := store.List(ctx, workflow.Filter{Principal: "alex", Kind: models.WorkflowSuspension})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunWaiting, runs[0].State)

	acct, _ := f.ledger.Get(ctx, "alex")
	assert.Equal(t, models.StatusGracePeriod, acct.Status)
	revoked, _ := keys.IsRevoked(ctx, "alex")
	assert.False(t, revoked, "access stays live during grace")

	f.advance(301 * time.Second)
	_, err = engine.RunDue(ctx)
	require.NoError(t, err)

	run, err := store.Get(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, run.State)

	acct, _ = f.ledger.Get(ctx, "alex")
	assert.Equal(t, models.StatusSuspended, acct.Status)
	require.NotNil(t, acct.SuspendedAt)
	assert.Equal(t, t0.Add(301*time.Second), *acct.SuspendedAt)
	revoked, _ = keys.IsRevoked(ctx, "alex")
	assert.True(t, revoked)
	assert.Equal(t, 1, f.events.Count(models.EventUserSuspended))

	rep, err = mon.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.GraceStarted)
	assert.Empty(t, f.inline)
}
