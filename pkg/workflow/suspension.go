package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/access"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

// Step names of the suspension workflow.
const (
	StepNotifyGraceStart   = "notify_grace_start"
	StepWaitGrace          = "wait_grace_period"
	StepNotifyFinalWarning = "notify_final_warning"
	StepRevokeAccess       = "revoke_access"
	StepMarkSuspended      = "mark_suspended"
)

// Deps are the collaborators of the budget workflows.
type Deps struct {
	Ledger   *ledger.Ledger
	Access   *access.Registry
	Notifier events.Notifier
	Events   events.Publisher
}

func (d Deps) notify(ctx context.Context, kind string, acct models.BudgetAccount, detail map[string]string) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Notify(ctx, kind, acct, detail); err != nil {
		log.Warn().Err(err).Str("principal", acct.PrincipalID).Str("notification", kind).Msg("notification failed")
	}
}

func (d Deps) publish(ctx context.Context, ev models.Event) {
	if d.Events != nil {
		d.Events.Publish(ctx, ev)
	}
}

// account loads the principal's record, falling back to the trigger
// figures when the record has vanished.
func (d Deps) account(ctx context.Context, principal string, p models.SuspensionPayload) models.BudgetAccount {
	acct, err := d.Ledger.Get(ctx, principal)
	if err != nil {
		return models.BudgetAccount{PrincipalID: principal, AccountType: p.AccountType, Spent: p.Spent, BudgetLimit: p.Limit}
	}
	return acct
}

// Suspension notifies the principal, waits out the grace period, revokes
// access and marks the ledger record suspended.
func Suspension(d Deps) Definition {
	payload := func(rc *RunContext) (models.SuspensionPayload, error) {
		var p models.SuspensionPayload
		err := rc.Decode(&p)
		return p, err
	}

	return Definition{
		Kind: models.WorkflowSuspension,
		Steps: []Step{
			{Name: StepNotifyGraceStart, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				p, err := payload(rc)
				if err != nil {
					return Outcome{}, err
				}
				deadline := rc.Run.CreatedAt.Add(time.Duration(p.GraceSeconds) * time.Second)
				d.notify(ctx, events.NotifyGraceStart, d.account(ctx, rc.Run.Principal, p), map[string]string{
					"reason":         p.Reason,
					"grace_deadline": deadline.Format(time.RFC3339),
				})
				return Next(), nil
			}},
			{Name: StepWaitGrace, Run: func(_ context.Context, rc *RunContext) (Outcome, error) {
				p, err := payload(rc)
				if err != nil {
					return Outcome{}, err
				}
				return WaitUntil(rc.Run.CreatedAt.Add(time.Duration(p.GraceSeconds) * time.Second)), nil
			}},
			{Name: StepNotifyFinalWarning, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				p, err := payload(rc)
				if err != nil {
					return Outcome{}, err
				}
				d.notify(ctx, events.NotifyFinalWarning, d.account(ctx, rc.Run.Principal, p), map[string]string{"reason": p.Reason})
				return Next(), nil
			}},
			{Name: StepRevokeAccess, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				p, err := payload(rc)
				if err != nil {
					return Outcome{}, err
				}
				ctrl, err := d.Access.For(p.AccountType)
				if err != nil {
					return Outcome{}, err
				}
				changed, err := ctrl.Revoke(ctx, rc.Run.Principal)
				if err != nil {
					return Outcome{}, err
				}
				log.Info().Str("principal", rc.Run.Principal).Bool("changed", changed).Msg("access revoked")
				return Next(), nil
			}},
			{Name: StepMarkSuspended, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				p, err := payload(rc)
				if err != nil {
					return Outcome{}, err
				}
				ok, err := d.Ledger.TransitionTo(ctx, rc.Run.Principal, models.StatusSuspended,
					models.StatusActive, models.StatusGracePeriod)
				if errors.Is(err, ledger.ErrNotFound) {
					return Fail("budget account not found"), nil
				}
				if err != nil {
					return Outcome{}, err
				}
				if !ok {
					log.Info().Str("principal", rc.Run.Principal).Msg("account already suspended or not suspendable")
					return Next(), nil
				}
				acct := d.account(ctx, rc.Run.Principal, p)
				log.Warn().Str("principal", acct.PrincipalID).
					Stringer("spent", acct.Spent).Stringer("limit", acct.BudgetLimit).
					Str("reason", p.Reason).Msg("principal suspended")
				d.publish(ctx, events.New(models.EventUserSuspended, acct,
					"reason", p.Reason,
					"grace_seconds", strconv.Itoa(p.GraceSeconds),
					"run_id", rc.Run.ID))
				return Next(), nil
			}},
		},
	}
}

// SuspendNow revokes access and marks the record suspended inline, without
// a durable run. It backs the monitor when a workflow cannot be started.
func SuspendNow(ctx context.Context, d Deps, principal string, p models.SuspensionPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode suspension payload: %w", err)
	}
	now := d.Ledger.Now()
	rc := &RunContext{
		Run: models.WorkflowRun{
			ID:        "inline",
			Kind:      models.WorkflowSuspension,
			Principal: principal,
			Payload:   raw,
			CreatedAt: now,
		},
		Now: now,
	}
	def := Suspension(d)
	for _, name := range []string{StepRevokeAccess, StepMarkSuspended} {
		out, err := def.Steps[def.index(name)].Run(ctx, rc)
		if err != nil {
			return &StepError{Step: name, Err: err}
		}
		if out.kind == outcomeFail {
			return &StepError{Step: name, Err: errors.New(out.reason)}
		}
	}
	return nil
}
