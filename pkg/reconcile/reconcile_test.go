package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/access"
	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status     models.Status
		restricted bool
		want       string
	}{
		{models.StatusActive, false, ""},
		{models.StatusActive, true, ActiveButRestricted},
		{models.StatusGracePeriod, true, ActiveButRestricted},
		{models.StatusGracePeriod, false, ""},
		{models.StatusSuspended, true, ""},
		{models.StatusSuspended, false, SuspendedNotRestricted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.status, tt.restricted), "%s restricted=%v", tt.status, tt.restricted)
	}
}

func TestSweepReportsWithoutCorrecting(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), config.Static(config.Default()), nil)
	ctrl := access.NewMemory()
	reg := access.NewRegistry()
	reg.Register(models.AccountTypeAPIKey, ctrl)
	rec := &events.Recorder{}

	for _, id := range []string{"ok-active", "drift-active", "ok-suspended", "drift-suspended"} {
		_, err := l.Create(ctx, id, models.AccountTypeAPIKey, models.FromDollars(5))
		require.NoError(t, err)
	}
	_, err := l.Create(ctx, "unmanaged", models.AccountTypeAPIKey, 0)
	require.NoError(t, err)
	_, err = l.Create(ctx, "other-type", "iam_role", models.FromDollars(5))
	require.NoError(t, err)

	for _, id := range []string{"ok-suspended", "drift-suspended"} {
		ok, err := l.TransitionTo(ctx, id, models.StatusSuspended)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, _ = ctrl.Revoke(ctx, "ok-suspended")
	_, _ = ctrl.Revoke(ctx, "drift-active")
	_, _ = ctrl.Revoke(ctx, "unmanaged")

	rep, err := New(l, reg, rec).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Checked)
	assert.Equal(t, 1, rep.Errors, "unknown account type")
	require.Len(t, rep.Mismatches, 2)
	assert.Equal(t, Mismatch{PrincipalID: "drift-active", Status: models.StatusActive, Restricted: true, Kind: ActiveButRestricted}, rep.Mismatches[0])
	assert.Equal(t, Mismatch{PrincipalID: "drift-suspended", Status: models.StatusSuspended, Kind: SuspendedNotRestricted}, rep.Mismatches[1])
	assert.Equal(t, 2, rec.Count(models.EventReconciliationMismatch))

	acct, _ := l.Get(ctx, "drift-suspended")
	assert.Equal(t, models.StatusSuspended, acct.Status)
	restricted, _ := ctrl.IsRevoked(ctx, "drift-active")
	assert.True(t, restricted)
}
