package ingest

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/cost"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/pricing"
	"github.com/pario-ai/budgeteer/pkg/tracker"
)

const sonnet = "anthropic.claude-3-5-sonnet-20240620-v1:0"

type harness struct {
	proc    *Processor
	ledger  *ledger.Ledger
	tracker *tracker.SQLiteTracker
	events  *events.Recorder
	store   ledger.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr, err := tracker.New(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	h := &harness{tracker: tr, events: &events.Recorder{}}
	return h.build(t, ledger.NewMemoryStore())
}

func (h *harness) build(t *testing.T, store ledger.Store) *harness {
	t.Helper()
	live := config.Static(config.Default())
	h.store = store
	h.ledger = ledger.New(store, live, h.events)
	calc := cost.New(pricing.NewResolver(pricing.NewCache(time.Minute), nil, "us-east-1", nil))
	h.proc = NewProcessor(h.ledger, calc, h.tracker, live, nil)
	return h
}

func usage(id, principal string) models.UsageEvent {
	return models.UsageEvent{
		EventID:   id,
		Principal: principal,
		Model:     sonnet,
		Tokens:    models.TokenCounts{Input: 1000, Output: 1000},
	}
}

func TestProcessAccruesAndRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.proc.Process(ctx, usage("req-1", "alice"))
	require.NoError(t, err)
	assert.Equal(t, models.FromDollars(0.018), res.Cost)
	assert.Equal(t, models.FromDollars(0.018), res.Account.Spent)
	assert.Equal(t, models.FromDollars(5), res.Account.BudgetLimit)
	assert.True(t, res.Account.AutoCreated)
	assert.Equal(t, 1, h.events.Count(models.EventBudgetAutoCreated))

	recs, err := h.tracker.QueryByPrincipal(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "req-1", recs[0].EventID)
	assert.Equal(t, "us-east-1", recs[0].Region)
	assert.Equal(t, models.UsageTypeInvocation, recs[0].UsageType)
}

func TestProcessDropsDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.proc.Process(ctx, usage("req-1", "alice"))
	require.NoError(t, err)
	res, err := h.proc.Process(ctx, usage("req-1", "alice"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// Events without an id are always accounted.
	_, err = h.proc.Process(ctx, usage("", "alice"))
	require.NoError(t, err)
	_, err = h.proc.Process(ctx, usage("", "alice"))
	require.NoError(t, err)

	acct, err := h.ledger.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.FromDollars(0.054), acct.Spent)
}

func TestProcessRejectsMalformed(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		ev   models.UsageEvent
	}{
		{"no principal", models.UsageEvent{Model: sonnet}},
		{"no model", models.UsageEvent{Principal: "alice"}},
		{"negative tokens", models.UsageEvent{Principal: "alice", Model: sonnet, Tokens: models.TokenCounts{Output: -1}}},
		{"oversized output", models.UsageEvent{Principal: "alice", Model: sonnet, Tokens: models.TokenCounts{Output: 1e15}}},
		{"max int input", models.UsageEvent{Principal: "alice", Model: sonnet, Tokens: models.TokenCounts{Input: math.MaxInt64}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.proc.Process(context.Background(), tt.ev)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
	_, err := h.ledger.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

type failingStore struct {
	ledger.Store
	fail bool
}

func (f *failingStore) Accrue(ctx context.Context, p, model string, c models.Money, at time.Time) (models.BudgetAccount, error) {
	if f.fail {
		return models.BudgetAccount{}, errors.New("database is locked")
	}
	return f.Store.Accrue(ctx, p, model, c, at)
}

func TestFailedAccrualReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ledger.Create(ctx, "alice", models.AccountTypeAPIKey, models.FromDollars(5))
	require.NoError(t, err)

	fs := &failingStore{Store: h.store, fail: true}
	h.build(t, fs)

	_, err = h.proc.Process(ctx, usage("req-9", "alice"))
	require.Error(t, err)

	fs.fail = false
	res, err := h.proc.Process(ctx, usage("req-9", "alice"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "redelivery after a failure must be processed")
	assert.Equal(t, models.FromDollars(0.018), res.Account.Spent)
}

func TestRunBatch(t *testing.T) {
	h := newHarness(t)
	input := strings.Join([]string{
		`{"event_id":"a1","principal_id":"alice","model_id":"` + sonnet + `","tokens":{"input_tokens":1000,"output_tokens":1000}}`,
		`{"event_id":"a1","principal_id":"alice","model_id":"` + sonnet + `","tokens":{"input_tokens":1000,"output_tokens":1000}}`,
		`not json`,
		``,
		`{"principal_id":"","model_id":"x"}`,
		`{"event_id":"b1","principal_id":"bob","model_id":"` + sonnet + `","tokens":{"input_tokens":1000,"output_tokens":1000}}`,
	}, "\n")

	stats, err := h.proc.Run(context.Background(), strings.NewReader(input), DecodeJSON, 4)
	require.NoError(t, err)
	assert.Equal(t, Stats{Lines: 5, Accrued: 2, Duplicates: 1, Malformed: 2}, stats)

	bob, err := h.ledger.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FromDollars(0.018), bob.Spent)
}

func TestRunConcurrentSamePrincipal(t *testing.T) {
	h := newHarness(t)
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(`{"principal_id":"carol","model_id":"` + sonnet + `","tokens":{"input_tokens":1000}}` + "\n")
	}
	stats, err := h.proc.Run(context.Background(), strings.NewReader(b.String()), DecodeJSON, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(200), stats.Accrued)

	acct, err := h.ledger.Get(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, 200*models.FromDollars(0.003), acct.Spent)
	assert.Equal(t, 1, h.events.Count(models.EventBudgetAutoCreated))
}
