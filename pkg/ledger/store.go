// Package ledger keeps the authoritative per-principal budget records.
//
// Every mutation is a single atomic operation in the backing store. Status
// changes are compare-and-set: the caller names the statuses it expects and
// learns whether the change applied.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// ErrNotFound is returned when no record exists for a principal.
var ErrNotFound = errors.New("budget account not found")

// Store is the persistence contract of the ledger.
type Store interface {
	// Get returns the record with its per-model spend.
	Get(ctx context.Context, principal string) (models.BudgetAccount, error)
	// Create inserts acct unless a record already exists for the principal.
	// It reports whether the insert happened.
	Create(ctx context.Context, acct models.BudgetAccount) (bool, error)
	// Accrue adds cost to the spend and to the model's spend and returns the
	// post-increment record (without per-model spend).
	Accrue(ctx context.Context, principal, model string, cost models.Money, at time.Time) (models.BudgetAccount, error)
	// SetThreshold moves threshold_state from one value to another.
	SetThreshold(ctx context.Context, principal string, from, to models.ThresholdState, at time.Time) (bool, error)
	// Transition applies a conditional status change.
	Transition(ctx context.Context, principal string, t Transition) (bool, error)
	// Reset starts a new budget period if the status is one of r.From.
	Reset(ctx context.Context, principal string, r Reset) (bool, error)
	// SetLimit replaces the budget limit.
	SetLimit(ctx context.Context, principal string, limit models.Money, at time.Time) error
	// Scan returns up to limit records with principal ids greater than after,
	// ordered by principal id.
	Scan(ctx context.Context, after string, limit int) ([]models.BudgetAccount, error)
	Close() error
}

// Transition describes a conditional status change.
type Transition struct {
	To models.Status
	// From lists the statuses the record must be in. Empty means any.
	From []models.Status
	// GraceDeadline is stored when To is StatusGracePeriod.
	GraceDeadline time.Time
	// RequireNoGrace additionally requires that no grace deadline is set.
	RequireNoGrace bool
	At             time.Time
}

// Reset describes a period reset. The new refresh date is At plus the
// record's own refresh period.
type Reset struct {
	From []models.Status
	At   time.Time
}

func statusIn(s models.Status, set []models.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}
