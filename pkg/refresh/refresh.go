// Package refresh opens new budget windows for principals whose refresh date
// has passed.
package refresh

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

// ReasonWindowElapsed is the restoration reason recorded by the sweep.
const ReasonWindowElapsed = "refresh_window_elapsed"

// Starter starts workflow runs.
type Starter interface {
	Start(ctx context.Context, kind models.WorkflowKind, principal string, payload any) (models.WorkflowRun, error)
}

// Report summarises one sweep.
type Report struct {
	Due          int `json:"due"`
	Reset        int `json:"reset"`
	Restorations int `json:"restorations"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// Sweeper resets or restores every principal whose window has elapsed.
type Sweeper struct {
	ledger *ledger.Ledger
	runs   Starter
}

// New creates a Sweeper.
func New(l *ledger.Ledger, runs Starter) *Sweeper {
	return &Sweeper{ledger: l, runs: runs}
}

// Sweep processes every due account once. Per-account failures are counted
// and logged; only a failed scan aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	now := s.ledger.Now()
	var rep Report

	err := s.ledger.Each(ctx, func(acct models.BudgetAccount) error {
		if !acct.RefreshDue(now) {
			return nil
		}
		rep.Due++
		switch acct.Status {
		case models.StatusSuspended:
			s.restore(ctx, acct, &rep)
		case models.StatusActive:
			s.reset(ctx, acct, &rep)
		default:
			rep.Skipped++
			log.Debug().Str("principal", acct.PrincipalID).
				Str("status", string(acct.Status)).
				Msg("refresh due but status not eligible, skipping")
		}
		return nil
	})

	log.Info().
		Int("due", rep.Due).
		Int("reset", rep.Reset).
		Int("restorations", rep.Restorations).
		Int("skipped", rep.Skipped).
		Int("errors", rep.Errors).
		Msg("refresh sweep complete")
	return rep, err
}

func (s *Sweeper) restore(ctx context.Context, acct models.BudgetAccount, rep *Report) {
	run, err := s.runs.Start(ctx, models.WorkflowRestoration, acct.PrincipalID, models.RestorationPayload{
		AccountType: acct.AccountType,
		Reason:      ReasonWindowElapsed,
	})
	switch {
	case errors.Is(err, workflow.ErrAlreadyRunning):
		rep.Skipped++
		log.Debug().Str("principal", acct.PrincipalID).Msg("restoration already in progress")
	case err != nil:
		rep.Errors++
		log.Error().Err(err).Str("principal", acct.PrincipalID).Msg("start restoration failed")
	default:
		rep.Restorations++
		log.Info().Str("principal", acct.PrincipalID).Str("run_id", run.ID).Msg("restoration started")
	}
}

func (s *Sweeper) reset(ctx context.Context, acct models.BudgetAccount, rep *Report) {
	ok, err := s.ledger.ResetPeriod(ctx, acct.PrincipalID, models.StatusActive)
	if err != nil {
		rep.Errors++
		log.Error().Err(err).Str("principal", acct.PrincipalID).Msg("reset budget period failed")
		return
	}
	if !ok {
		// Status moved between the scan and the reset.
		rep.Skipped++
		return
	}
	rep.Reset++
	log.Info().Str("principal", acct.PrincipalID).
		Stringer("previous_spent", acct.Spent).
		Msg("budget period reset")
}
