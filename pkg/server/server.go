// Package server exposes usage intake, account lookup, workflow inspection
// and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/ingest"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Deps are the components served over HTTP. Nil components disable their routes.
type Deps struct {
	Processor   *ingest.Processor
	Provisioner *ingest.Provisioner
	Ledger      *ledger.Ledger
	Runs        *workflow.Store
	Gatherer    prometheus.Gatherer
}

// Server is the engine's HTTP front end.
type Server struct {
	addr string
	deps Deps
	mux  *http.ServeMux
}

// New creates a Server listening on addr.
func New(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Processor != nil {
		s.mux.HandleFunc("POST /v1/usage", s.handleUsage)
	}
	if deps.Provisioner != nil {
		s.mux.HandleFunc("POST /v1/provisioning", s.handleProvisioning)
	}
	if deps.Ledger != nil {
		s.mux.HandleFunc("GET /v1/accounts", s.handleListAccounts)
		s.mux.HandleFunc("GET /v1/accounts/{principal}", s.handleAccount)
	}
	if deps.Runs != nil {
		s.mux.HandleFunc("GET /v1/workflows", s.handleWorkflows)
		s.mux.HandleFunc("GET /v1/workflows/{id}", s.handleWorkflow)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("budgeteer http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUsage accepts one UsageEvent object or an array of them.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var batch []models.UsageEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		var one models.UsageEvent
		if err := json.Unmarshal(body, &one); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid usage event")
			return
		}
		batch = []models.UsageEvent{one}
	}

	type item struct {
		ingest.Result
		Error string `json:"error,omitempty"`
	}
	out := make([]item, 0, len(batch))
	status := http.StatusOK
	for _, ev := range batch {
		res, err := s.deps.Processor.Process(r.Context(), ev)
		switch {
		case errors.Is(err, ingest.ErrMalformedEvent):
			out = append(out, item{Result: ingest.Result{Principal: ev.Principal}, Error: err.Error()})
			if len(batch) == 1 {
				status = http.StatusUnprocessableEntity
			}
		case err != nil:
			log.Error().Err(err).Str("principal", ev.Principal).Msg("usage intake failed")
			out = append(out, item{Result: ingest.Result{Principal: ev.Principal}, Error: "accrual failed"})
			status = http.StatusServiceUnavailable
		default:
			out = append(out, item{Result: res})
		}
	}
	writeJSON(w, status, map[string]any{"results": out})
}

func (s *Server) handleProvisioning(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	ev, err := ingest.ParseProvisioningEvent(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.deps.Provisioner.Handle(r.Context(), ev)
	if err != nil {
		log.Error().Err(err).Str("principal", ev.Principal).Msg("provisioning failed")
		writeJSONError(w, http.StatusServiceUnavailable, "provisioning failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal_id": ev.Principal, "created": created})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Ledger.Get(r.Context(), r.PathValue("principal"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no budget for principal")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "ledger lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": acct,
		"status":  models.StatusOf(acct),
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	accts, err := s.deps.Ledger.List(r.Context(), r.URL.Query().Get("after"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "ledger scan failed")
		return
	}
	out := make([]models.BudgetStatus, 0, len(accts))
	for _, a := range accts {
		out = append(out, models.StatusOf(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	runs, err := s.deps.Runs.List(r.Context(), workflow.Filter{
		Principal: q.Get("principal"),
		Kind:      models.WorkflowKind(q.Get("kind")),
		State:     models.RunState(q.Get("state")),
		Limit:     limit,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "workflow query failed")
		return
	}
	if runs == nil {
		runs = []models.WorkflowRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, workflow.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such workflow run")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "workflow lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"budgeteer_error","code":%d}}`, message, code)
}
