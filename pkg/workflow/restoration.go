package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

// Step names of the restoration workflow.
const (
	StepValidateEligibility = "validate_eligibility"
	StepGrantAccess         = "grant_access"
	StepValidateGrant       = "validate_grant"
	StepResetLedgerPeriod   = "reset_ledger_period"
	StepLogAudit            = "log_audit"
	StepNotifyUser          = "notify_user"
)

// Restoration grants access back to a suspended principal whose refresh
// window has elapsed and opens a new budget period.
func Restoration(d Deps) Definition {
	accountType := func(ctx context.Context, rc *RunContext) (models.AccountType, error) {
		var p models.RestorationPayload
		if err := rc.Decode(&p); err != nil {
			return "", err
		}
		if p.AccountType != "" {
			return p.AccountType, nil
		}
		acct, err := d.Ledger.Get(ctx, rc.Run.Principal)
		if err != nil {
			return "", err
		}
		return acct.AccountType, nil
	}

	return Definition{
		Kind: models.WorkflowRestoration,
		Steps: []Step{
			{Name: StepValidateEligibility, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				acct, err := d.Ledger.Get(ctx, rc.Run.Principal)
				if errors.Is(err, ledger.ErrNotFound) {
					return Fail("budget account not found"), nil
				}
				if err != nil {
					return Outcome{}, err
				}
				if acct.Status != models.StatusSuspended {
					return Fail(fmt.Sprintf("account is %s, not suspended", acct.Status)), nil
				}
				if !acct.RefreshDue(rc.Now) {
					return Fail("refresh window not elapsed until " + acct.RefreshDate.Format(time.RFC3339)), nil
				}
				return Next(), nil
			}},
			{Name: StepGrantAccess, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				t, err := accountType(ctx, rc)
				if err != nil {
					return Outcome{}, err
				}
				ctrl, err := d.Access.For(t)
				if err != nil {
					return Outcome{}, err
				}
				changed, err := ctrl.Grant(ctx, rc.Run.Principal)
				if err != nil {
					return Outcome{}, err
				}
				log.Info().Str("principal", rc.Run.Principal).Bool("changed", changed).Msg("access granted")
				return Next(), nil
			}},
			{Name: StepValidateGrant, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				t, err := accountType(ctx, rc)
				if err != nil {
					return Outcome{}, err
				}
				ctrl, err := d.Access.For(t)
				if err != nil {
					return Outcome{}, err
				}
				restricted, err := ctrl.ValidateRestriction(ctx, rc.Run.Principal)
				if err != nil {
					return Outcome{}, err
				}
				if restricted {
					return Outcome{}, errors.New("restriction still present after grant")
				}
				return Next(), nil
			}},
			{Name: StepResetLedgerPeriod, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				ok, err := d.Ledger.ResetPeriod(ctx, rc.Run.Principal, models.StatusSuspended)
				if err != nil {
					return Outcome{}, err
				}
				if !ok {
					return Finish("account no longer suspended"), nil
				}
				return Next(), nil
			}},
			{Name: StepLogAudit, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				var p models.RestorationPayload
				if err := rc.Decode(&p); err != nil {
					return Outcome{}, err
				}
				acct, err := d.Ledger.Get(ctx, rc.Run.Principal)
				if err != nil {
					return Outcome{}, err
				}
				log.Info().Str("principal", acct.PrincipalID).
					Time("refresh_date", acct.RefreshDate).
					Int("refresh_count", acct.RefreshCount).
					Msg("principal restored")
				d.publish(ctx, events.New(models.EventUserRestored, acct,
					"reason", p.Reason,
					"refresh_count", strconv.Itoa(acct.RefreshCount),
					"refresh_date", acct.RefreshDate.Format(time.RFC3339),
					"run_id", rc.Run.ID))
				return Next(), nil
			}},
			{Name: StepNotifyUser, Run: func(ctx context.Context, rc *RunContext) (Outcome, error) {
				acct, err := d.Ledger.Get(ctx, rc.Run.Principal)
				if err != nil {
					return Outcome{}, err
				}
				d.notify(ctx, events.NotifyRestored, acct, map[string]string{
					"refresh_date": acct.RefreshDate.Format(time.RFC3339),
				})
				return Next(), nil
			}},
		},
	}
}
