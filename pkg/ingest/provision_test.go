package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

func TestProvisionerHandle(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	live := config.Static(config.Default())
	l := ledger.New(ledger.NewMemoryStore(), live, rec)
	p := NewProvisioner(l, live)

	created, err := p.Handle(ctx, ProvisioningEvent{EventName: "CreateUser", Principal: "BedrockAPIKey-new"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = p.Handle(ctx, ProvisioningEvent{EventName: "AttachUserPolicy", Principal: "BedrockAPIKey-new"})
	require.NoError(t, err)
	assert.False(t, created, "existing budget is left alone")

	created, err = p.Handle(ctx, ProvisioningEvent{EventName: "CreateUser", Principal: "alice"})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = p.Handle(ctx, ProvisioningEvent{EventName: "DeleteUser", Principal: "BedrockAPIKey-old"})
	require.NoError(t, err)
	assert.False(t, created)

	acct, err := l.Get(ctx, "BedrockAPIKey-new")
	require.NoError(t, err)
	assert.True(t, acct.AutoCreated)
	assert.Equal(t, models.Money(0), acct.Spent)
	assert.Equal(t, models.FromDollars(5), acct.BudgetLimit)
	assert.Equal(t, models.AccountTypeAPIKey, acct.AccountType)
	assert.Equal(t, 1, rec.Count(models.EventBudgetAutoCreated))
}
