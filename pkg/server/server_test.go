package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/cost"
	"github.com/pario-ai/budgeteer/pkg/ingest"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/pricing"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

func setupServer(t *testing.T) (*Server, *ledger.Ledger, *workflow.Store) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	live := config.Static(config.Default())
	l := ledger.New(ledger.NewMemoryStore(), live, nil, ledger.WithMetrics(m))
	calc := cost.New(pricing.NewResolver(pricing.NewCache(time.Minute), nil, "", m))

	runs, err := workflow.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	s := New(":0", Deps{
		Processor:   ingest.NewProcessor(l, calc, nil, live, m),
		Provisioner: ingest.NewProvisioner(l, live),
		Ledger:      l,
		Runs:        runs,
		Gatherer:    reg,
	})
	return s, l, runs
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _, _ := setupServer(t)
	w := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestUsageThenAccount(t *testing.T) {
	s, _, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/v1/usage",
		`{"principal_id":"alice","model_id":"anthropic.claude-3-5-sonnet","tokens":{"input_tokens":1000,"output_tokens":1000}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/v1/accounts/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Account models.BudgetAccount `json:"account"`
		Status  models.BudgetStatus  `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.FromDollars(0.018), resp.Account.Spent)
	assert.Equal(t, models.StatusActive, resp.Status.Status)

	w = do(t, s, http.MethodGet, "/v1/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"principal_id":"alice"`)

	w = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `budgeteer_usage_events_total{result="accrued"} 1`)
}

func TestUsageBatchAndErrors(t *testing.T) {
	s, _, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/v1/usage", `[
		{"principal_id":"a","model_id":"m","tokens":{"input_tokens":1}},
		{"principal_id":"","model_id":"m"}
	]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "malformed usage event")

	w = do(t, s, http.MethodPost, "/v1/usage", `{"principal_id":"","model_id":"m"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, s, http.MethodPost, "/v1/usage", `{"principal_id":"a","model_id":"m","tokens":{"output_tokens":1000000000000000}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, s, http.MethodPost, "/v1/usage", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/v1/usage", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAccountNotFound(t *testing.T) {
	s, _, _ := setupServer(t)
	w := do(t, s, http.MethodGet, "/v1/accounts/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProvisioning(t *testing.T) {
	s, l, _ := setupServer(t)
	w := do(t, s, http.MethodPost, "/v1/provisioning",
		`{"detail":{"eventName":"CreateUser","responseElements":{"user":{"userName":"BedrockAPIKey-7"}}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"principal_id":"BedrockAPIKey-7","created":true}`, w.Body.String())

	_, err := l.Get(context.Background(), "BedrockAPIKey-7")
	assert.NoError(t, err)
}

func TestWorkflows(t *testing.T) {
	s, _, runs := setupServer(t)
	now := time.Now().UTC().Truncate(time.Second)
	run := models.WorkflowRun{
		ID: "run-1", Kind: models.WorkflowSuspension, Principal: "alice",
		State: models.RunWaiting, Step: "wait_grace_period", CreatedAt: now, UpdatedAt: now,
	}
	_, err := runs.Insert(context.Background(), run, models.IdempotencyKey("alice", models.WorkflowSuspension))
	require.NoError(t, err)

	w := do(t, s, http.MethodGet, "/v1/workflows?principal=alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Runs []models.WorkflowRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "wait_grace_period", resp.Runs[0].Step)

	w = do(t, s, http.MethodGet, "/v1/workflows?principal=bob", "")
	assert.JSONEq(t, `{"runs":[]}`, w.Body.String())

	w = do(t, s, http.MethodGet, "/v1/workflows/run-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodGet, "/v1/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/v1/workflows?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListenAndServeShutdown(t *testing.T) {
	s := New("127.0.0.1:0", Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
