// Package access revokes and grants a principal's ability to invoke models.
//
// Each account type has its own Controller. Revocations are tagged with a
// restriction level and timestamp so callers can verify a restriction from
// the controller's own state.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// LevelFullSuspension is the restriction level applied by Revoke.
const LevelFullSuspension = "full_suspension"

// ErrUnknownAccountType is returned when no controller serves an account type.
var ErrUnknownAccountType = errors.New("no access controller for account type")

// Controller manages access for one kind of principal. Revoke and Grant
// report whether they changed anything; repeating either is harmless.
type Controller interface {
	Revoke(ctx context.Context, principal string) (bool, error)
	Grant(ctx context.Context, principal string) (bool, error)
	IsRevoked(ctx context.Context, principal string) (bool, error)
	// ValidateRestriction reports whether a full-suspension restriction is
	// recorded for the principal.
	ValidateRestriction(ctx context.Context, principal string) (bool, error)
	Close() error
}

// Registry maps account types to controllers.
type Registry struct {
	controllers map[models.AccountType]Controller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[models.AccountType]Controller)}
}

// Register sets the controller for t.
func (r *Registry) Register(t models.AccountType, c Controller) {
	r.controllers[t] = c
}

// For returns the controller for t.
func (r *Registry) For(t models.AccountType) (Controller, error) {
	if t == "" {
		t = models.AccountTypeAPIKey
	}
	c, ok := r.controllers[t]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAccountType, t)
	}
	return c, nil
}

// Types returns the registered account types in sorted order.
func (r *Registry) Types() []models.AccountType {
	out := make([]models.AccountType, 0, len(r.controllers))
	for t := range r.controllers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes every distinct controller.
func (r *Registry) Close() error {
	seen := make(map[Controller]bool)
	var errs []error
	for _, c := range r.controllers {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
