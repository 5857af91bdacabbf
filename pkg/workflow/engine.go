// Package workflow runs durable multi-step workflows.
//
// A run's position (current step, state, wake time) is persisted after every
// step, so a restarted process resumes where the previous one stopped. Waits
// are stored wake times picked up by the poller; no goroutine sleeps through
// them. Runners lease due runs with a conditional update, so two runners
// never execute the same run at once.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
)

// ErrAlreadyRunning is returned by Start when a live run holds the same
// idempotency key.
var ErrAlreadyRunning = errors.New("workflow already running")

// StepError reports the step at which a run failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

type outcomeKind int

const (
	outcomeNext outcomeKind = iota
	outcomeWait
	outcomeFinish
	outcomeFail
)

// Outcome tells the engine what to do after a step.
type Outcome struct {
	kind   outcomeKind
	wakeAt time.Time
	reason string
}

// Next continues with the following step.
func Next() Outcome { return Outcome{kind: outcomeNext} }

// WaitUntil parks the run until t, then continues with the following step.
func WaitUntil(t time.Time) Outcome { return Outcome{kind: outcomeWait, wakeAt: t} }

// Finish ends the run successfully without running the remaining steps.
func Finish(reason string) Outcome { return Outcome{kind: outcomeFinish, reason: reason} }

// Fail ends the run in the failed state.
func Fail(reason string) Outcome { return Outcome{kind: outcomeFail, reason: reason} }

// RunContext is passed to each step.
type RunContext struct {
	Run models.WorkflowRun
	Now time.Time
}

// Decode unmarshals the run payload into v.
func (rc *RunContext) Decode(v any) error {
	if len(rc.Run.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Run.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", rc.Run.Kind, err)
	}
	return nil
}

// Step is one named unit of a workflow. Steps may be re-executed after a
// crash, so they must tolerate repeats.
type Step struct {
	Name string
	Run  func(ctx context.Context, rc *RunContext) (Outcome, error)
}

// Definition is an ordered list of steps for a workflow kind.
type Definition struct {
	Kind  models.WorkflowKind
	Steps []Step
}

func (d Definition) index(step string) int {
	for i, s := range d.Steps {
		if s.Name == step {
			return i
		}
	}
	return -1
}

// Engine starts runs and executes due steps.
type Engine struct {
	store   *Store
	defs    map[models.WorkflowKind]Definition
	cfg     config.WorkflowConfig
	metrics *metrics.Metrics
	now     func() time.Time
	owner   string
	kick    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records run and step outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine over store.
func NewEngine(store *Store, cfg config.WorkflowConfig, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		defs:  make(map[models.WorkflowKind]Definition),
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		owner: uuid.NewString(),
		kick:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	if e.cfg.Lease <= 0 {
		e.cfg.Lease = time.Minute
	}
	if e.cfg.BatchSize <= 0 {
		e.cfg.BatchSize = 50
	}
	if e.cfg.PollInterval <= 0 {
		e.cfg.PollInterval = 5 * time.Second
	}
	return e
}

// Register adds a workflow definition.
func (e *Engine) Register(d Definition) {
	e.defs[d.Kind] = d
}

// Store returns the run store.
func (e *Engine) Store() *Store { return e.store }

// Start creates a run of kind for principal. The run executes on the next
// poll. If a live run already exists for the same idempotency key, that run
// is returned with ErrAlreadyRunning.
func (e *Engine) Start(ctx context.Context, kind models.WorkflowKind, principal string, payload any) (models.WorkflowRun, error) {
	def, ok := e.defs[kind]
	if !ok || len(def.Steps) == 0 {
		return models.WorkflowRun{}, fmt.Errorf("unknown workflow kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := e.now().UTC().Truncate(time.Second)
	run := models.WorkflowRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		Principal: principal,
		State:     models.RunPending,
		Step:      def.Steps[0].Name,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	run, err = e.store.Insert(ctx, run, models.IdempotencyKey(principal, kind))
	if err != nil {
		return run, err
	}
	e.metrics.WorkflowRun(string(kind), string(models.RunPending))
	log.Info().Str("run", run.ID).Str("kind", string(kind)).Str("principal", principal).Msg("workflow started")

	select {
	case e.kick <- struct{}{}:
	default:
	}
	return run, nil
}

// RunDue claims and executes every due run. It returns the number of runs
// it executed.
func (e *Engine) RunDue(ctx context.Context) (int, error) {
	total := 0
	for {
		runs, err := e.store.Claim(ctx, e.owner, e.now().UTC(), e.cfg.Lease, e.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		for _, run := range runs {
			if err := e.execute(ctx, run); err != nil {
				log.Error().Err(err).Str("run", run.ID).Msg("workflow execution interrupted")
			}
		}
		total += len(runs)
		if len(runs) < e.cfg.BatchSize {
			return total, nil
		}
	}
}

// Run polls for due runs until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	log.Info().Dur("poll_interval", e.cfg.PollInterval).Msg("workflow runner started")
	for {
		if _, err := e.RunDue(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("workflow poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.kick:
		}
	}
}

// execute runs steps from the run's current step until it waits or ends.
func (e *Engine) execute(ctx context.Context, run models.WorkflowRun) error {
	def, ok := e.defs[run.Kind]
	if !ok {
		return e.finish(ctx, run, models.RunFailed, fmt.Sprintf("unknown workflow kind %q", run.Kind))
	}
	i := def.index(run.Step)
	if i < 0 {
		return e.finish(ctx, run, models.RunFailed, fmt.Sprintf("unknown step %q", run.Step))
	}
	run.WakeAt = nil

	for ; i < len(def.Steps); i++ {
		step := def.Steps[i]
		run.Step = step.Name
		rc := &RunContext{Run: run, Now: e.now().UTC()}

		out, err := step.Run(ctx, rc)
		e.metrics.WorkflowStep(string(run.Kind), step.Name, err)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-step: leave the lease to expire and retry the step later.
				return ctx.Err()
			}
			serr := &StepError{Step: step.Name, Err: err}
			log.Error().Err(err).Str("run", run.ID).Str("kind", string(run.Kind)).
				Str("principal", run.Principal).Str("step", step.Name).Msg("workflow step failed")
			return e.finish(ctx, run, models.RunFailed, serr.Error())
		}

		log.Debug().Str("run", run.ID).Str("step", step.Name).Msg("workflow step done")

		switch out.kind {
		case outcomeFail:
			log.Warn().Str("run", run.ID).Str("kind", string(run.Kind)).
				Str("principal", run.Principal).Str("step", step.Name).Str("reason", out.reason).
				Msg("workflow failed")
			return e.finish(ctx, run, models.RunFailed, fmt.Sprintf("step %s: %s", step.Name, out.reason))
		case outcomeFinish:
			log.Info().Str("run", run.ID).Str("step", step.Name).Str("reason", out.reason).Msg("workflow finished early")
			return e.finish(ctx, run, models.RunSucceeded, "")
		case outcomeWait:
			if i+1 >= len(def.Steps) {
				return e.finish(ctx, run, models.RunSucceeded, "")
			}
			if out.wakeAt.After(e.now()) {
				wake := out.wakeAt.UTC()
				run.Step = def.Steps[i+1].Name
				run.State = models.RunWaiting
				run.WakeAt = &wake
				run.UpdatedAt = e.now().UTC()
				log.Info().Str("run", run.ID).Str("principal", run.Principal).Time("wake_at", wake).Msg("workflow waiting")
				if err := e.store.Save(ctx, e.owner, run); err != nil {
					return err
				}
				e.metrics.WorkflowRun(string(run.Kind), string(models.RunWaiting))
				return nil
			}
		}

		if i+1 < len(def.Steps) {
			run.Step = def.Steps[i+1].Name
			run.State = models.RunPending
			run.UpdatedAt = e.now().UTC()
			if err := e.store.Save(ctx, e.owner, run); err != nil {
				return err
			}
		}
	}
	return e.finish(ctx, run, models.RunSucceeded, "")
}

func (e *Engine) finish(ctx context.Context, run models.WorkflowRun, state models.RunState, msg string) error {
	run.State = state
	run.Error = msg
	run.WakeAt = nil
	run.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, e.owner, run); err != nil {
		return err
	}
	e.metrics.WorkflowRun(string(run.Kind), string(state))
	log.Info().Str("run", run.ID).Str("kind", string(run.Kind)).Str("principal", run.Principal).
		Str("state", string(state)).Msg("workflow ended")
	return nil
}
