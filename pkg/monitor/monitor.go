// Package monitor sweeps the ledger for principals over budget, starts their
// grace periods and escalates grace periods that have run out.
package monitor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

// Suspension reasons carried in workflow payloads.
const (
	ReasonBudgetExceeded         = "budget_exceeded"
	ReasonGracePeriodExpired     = "grace_period_expired"
	ReasonGracePeriodSetupFailed = "grace_period_setup_failed"
)

// Starter starts workflow runs.
type Starter interface {
	Start(ctx context.Context, kind models.WorkflowKind, principal string, payload any) (models.WorkflowRun, error)
}

// SuspendFunc suspends a principal without a durable run.
type SuspendFunc func(ctx context.Context, principal string, p models.SuspensionPayload) error

// Report summarises one sweep.
type Report struct {
	Scanned      int `json:"scanned"`
	Monitored    int `json:"monitored"`
	Exceeded     int `json:"exceeded"`
	Critical     int `json:"critical"`
	GraceStarted int `json:"grace_started"`
	Escalated    int `json:"escalated"`
	Errors       int `json:"errors"`
}

// Monitor is the periodic threshold sweep.
type Monitor struct {
	ledger  *ledger.Ledger
	runs    Starter
	suspend SuspendFunc
	cfg     *config.Live
	pub     events.Publisher
	metrics *metrics.Metrics
}

// New creates a Monitor. suspend is the fallback used when a suspension
// workflow cannot be started after a grace period begins.
func New(l *ledger.Ledger, runs Starter, suspend SuspendFunc, cfg *config.Live, pub events.Publisher, m *metrics.Metrics) *Monitor {
	if pub == nil {
		pub = events.Discard
	}
	return &Monitor{ledger: l, runs: runs, suspend: suspend, cfg: cfg, pub: pub, metrics: m}
}

// Sweep checks every managed, enforceable account once.
func (m *Monitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	err := m.ledger.Each(ctx, func(acct models.BudgetAccount) error {
		rep.Scanned++
		if acct.Status == models.StatusSuspended || acct.Status == models.StatusRestricted || !acct.Managed() {
			return nil
		}
		rep.Monitored++
		m.check(ctx, acct, &rep)
		return nil
	})
	m.metrics.MonitorGauges(rep.Monitored, rep.Exceeded)

	log.Info().
		Int("scanned", rep.Scanned).
		Int("monitored", rep.Monitored).
		Int("exceeded", rep.Exceeded).
		Int("grace_started", rep.GraceStarted).
		Int("escalated", rep.Escalated).
		Int("errors", rep.Errors).
		Msg("threshold monitor sweep complete")
	return rep, err
}

func (m *Monitor) check(ctx context.Context, acct models.BudgetAccount, rep *Report) {
	ratio := acct.Ratio()
	if ratio < 1 {
		if ratio >= m.cfg.Budget().CriticalPercent/100 {
			rep.Critical++
			log.Warn().Str("principal", acct.PrincipalID).
				Float64("ratio", ratio).
				Stringer("spent", acct.Spent).
				Stringer("limit", acct.BudgetLimit).
				Msg("budget usage critical")
		}
		return
	}
	rep.Exceeded++

	now := m.ledger.Now()
	switch {
	case acct.GraceDeadline == nil:
		m.startGrace(ctx, acct, now, rep)
	case !now.Before(*acct.GraceDeadline):
		m.escalate(ctx, acct, rep)
	}
}

func (m *Monitor) startGrace(ctx context.Context, acct models.BudgetAccount, now time.Time, rep *Report) {
	grace := m.cfg.Budget().GracePeriodSeconds
	deadline := now.Add(time.Duration(grace) * time.Second)

	ok, err := m.ledger.BeginGrace(ctx, acct.PrincipalID, deadline)
	if err != nil {
		rep.Errors++
		log.Error().Err(err).Str("principal", acct.PrincipalID).Msg("begin grace period failed")
		return
	}
	if !ok {
		// Another sweep or a status change got there first.
		return
	}
	rep.GraceStarted++
	log.Warn().Str("principal", acct.PrincipalID).
		Stringer("spent", acct.Spent).
		Stringer("limit", acct.BudgetLimit).
		Time("grace_deadline", deadline).
		Msg("grace period started")
	m.pub.Publish(ctx, events.New(models.EventGraceStarted, acct,
		"grace_seconds", strconv.Itoa(grace),
		"grace_deadline", deadline.Format(time.RFC3339)))

	payload := models.SuspensionPayload{
		AccountType:  acct.AccountType,
		GraceSeconds: grace,
		Reason:       ReasonBudgetExceeded,
		Spent:        acct.Spent,
		Limit:        acct.BudgetLimit,
	}
	_, err = m.runs.Start(ctx, models.WorkflowSuspension, acct.PrincipalID, payload)
	if err == nil || errors.Is(err, workflow.ErrAlreadyRunning) {
		return
	}

	log.Error().Err(err).Str("principal", acct.PrincipalID).Msg("suspension workflow start failed, suspending immediately")
	payload.GraceSeconds = 0
	payload.Reason = ReasonGracePeriodSetupFailed
	if m.suspend == nil {
		rep.Errors++
		return
	}
	if err := m.suspend(ctx, acct.PrincipalID, payload); err != nil {
		rep.Errors++
		log.Error().Err(err).Str("principal", acct.PrincipalID).Msg("immediate suspension failed")
	}
}

func (m *Monitor) escalate(ctx context.Context, acct models.BudgetAccount, rep *Report) {
	_, err := m.runs.Start(ctx, models.WorkflowSuspension, acct.PrincipalID, models.SuspensionPayload{
		AccountType: acct.AccountType,
		Reason:      ReasonGracePeriodExpired,
		Spent:       acct.Spent,
		Limit:       acct.BudgetLimit,
	})
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		log.Debug().Str("principal", acct.PrincipalID).Msg("grace period expired, suspension already in progress")
		return
	}
	if err != nil {
		rep.Errors++
		log.Error().Err(err).Str("principal", acct.PrincipalID).Msg("escalation failed")
		return
	}
	rep.Escalated++
	log.Error().Str("principal", acct.PrincipalID).
		Time("grace_deadline", *acct.GraceDeadline).
		Msg("grace period expired without suspension, escalating")
	m.pub.Publish(ctx, events.New(models.EventGraceExpired, acct,
		"grace_deadline", acct.GraceDeadline.Format(time.RFC3339)))
	m.pub.Publish(ctx, events.New(models.EventSuspensionRequired, acct,
		"reason", ReasonGracePeriodExpired))
}
