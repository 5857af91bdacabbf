// Package reconcile compares ledger status with the access controllers'
// view and reports disagreements. It never corrects either side.
package reconcile

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/access"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

// Mismatch kinds.
const (
	SuspendedNotRestricted = "suspended_not_restricted"
	ActiveButRestricted    = "active_but_restricted"
)

// Mismatch is one disagreement between ledger and controller.
type Mismatch struct {
	PrincipalID string        `json:"principal_id"`
	Status      models.Status `json:"status"`
	Restricted  bool          `json:"restricted"`
	Kind        string        `json:"kind"`
}

// Report summarises one sweep.
type Report struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Errors     int        `json:"errors"`
}

// Reconciler runs the consistency sweep.
type Reconciler struct {
	ledger   *ledger.Ledger
	registry *access.Registry
	pub      events.Publisher
}

// New creates a Reconciler.
func New(l *ledger.Ledger, reg *access.Registry, pub events.Publisher) *Reconciler {
	if pub == nil {
		pub = events.Discard
	}
	return &Reconciler{ledger: l, registry: reg, pub: pub}
}

// Sweep checks every managed account in an enforceable status.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	err := r.ledger.Each(ctx, func(acct models.BudgetAccount) error {
		if !acct.Managed() || acct.Status == models.StatusRestricted {
			return nil
		}
		rep.Checked++
		ctrl, err := r.registry.For(acct.AccountType)
		if err != nil {
			rep.Errors++
			log.Warn().Err(err).Str("principal", acct.PrincipalID).Msg("reconciliation skipped")
			return nil
		}
		restricted, err := ctrl.ValidateRestriction(ctx, acct.PrincipalID)
		if err != nil {
			rep.Errors++
			log.Warn().Err(err).Str("principal", acct.PrincipalID).Msg("restriction check failed")
			return nil
		}
		if kind := classify(acct.Status, restricted); kind != "" {
			mm := Mismatch{PrincipalID: acct.PrincipalID, Status: acct.Status, Restricted: restricted, Kind: kind}
			rep.Mismatches = append(rep.Mismatches, mm)
			log.Error().Str("principal", acct.PrincipalID).
				Str("status", string(acct.Status)).
				Bool("restricted", restricted).
				Str("kind", kind).
				Msg("ledger and access controller disagree")
			r.pub.Publish(ctx, events.New(models.EventReconciliationMismatch, acct,
				"kind", kind,
				"status", string(acct.Status),
				"restricted", strconv.FormatBool(restricted)))
		}
		return nil
	})

	log.Info().
		Int("checked", rep.Checked).
		Int("mismatches", len(rep.Mismatches)).
		Int("errors", rep.Errors).
		Msg("reconciliation sweep complete")
	return rep, err
}

func classify(status models.Status, restricted bool) string {
	switch {
	case status == models.StatusSuspended && !restricted:
		return SuspendedNotRestricted
	case (status == models.StatusActive || status == models.StatusGracePeriod) && restricted:
		return ActiveButRestricted
	}
	return ""
}
