package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-node trials.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*models.BudgetAccount
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*models.BudgetAccount)}
}

func clone(a *models.BudgetAccount, withModels bool) models.BudgetAccount {
	out := *a
	out.ModelSpend = nil
	if withModels && len(a.ModelSpend) > 0 {
		out.ModelSpend = make(map[string]models.Money, len(a.ModelSpend))
		for k, v := range a.ModelSpend {
			out.ModelSpend[k] = v
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }

func (m *MemoryStore) Get(_ context.Context, principal string) (models.BudgetAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[principal]
	if !ok {
		return models.BudgetAccount{}, ErrNotFound
	}
	return clone(a, true), nil
}

func (m *MemoryStore) Create(_ context.Context, acct models.BudgetAccount) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.PrincipalID]; ok {
		return false, nil
	}
	a := clone(&acct, true)
	m.accounts[acct.PrincipalID] = &a
	return true, nil
}

func (m *MemoryStore) Accrue(_ context.Context, principal, model string, cost models.Money, at time.Time) (models.BudgetAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[principal]
	if !ok {
		return models.BudgetAccount{}, ErrNotFound
	}
	a.Spent += cost
	a.UpdatedAt = at
	if model != "" {
		if a.ModelSpend == nil {
			a.ModelSpend = make(map[string]models.Money)
		}
		a.ModelSpend[model] += cost
	}
	return clone(a, false), nil
}

func (m *MemoryStore) SetThreshold(_ context.Context, principal string, from, to models.ThresholdState, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[principal]
	if !ok || a.ThresholdState != from {
		return false, nil
	}
	a.ThresholdState = to
	a.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) Transition(_ context.Context, principal string, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[principal]
	if !ok || !statusIn(a.Status, t.From) {
		return false, nil
	}
	if t.RequireNoGrace && a.GraceDeadline != nil {
		return false, nil
	}
	a.Status = t.To
	a.UpdatedAt = t.At
	switch t.To {
	case models.StatusGracePeriod:
		a.GraceDeadline = timePtr(t.GraceDeadline)
	case models.StatusSuspended:
		a.GraceDeadline = nil
		a.SuspendedAt = timePtr(t.At)
	case models.StatusActive:
		a.GraceDeadline = nil
	}
	return true, nil
}

func (m *MemoryStore) Reset(_ context.Context, principal string, r Reset) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[principal]
	if !ok || !statusIn(a.Status, r.From) {
		return false, nil
	}
	if a.Status == models.StatusSuspended {
		a.RestoredAt = timePtr(r.At)
	}
	a.Spent = 0
	a.ModelSpend = nil
	a.Status = models.StatusActive
	a.ThresholdState = models.ThresholdNormal
	a.GraceDeadline = nil
	a.PeriodStart = r.At
	a.RefreshDate = r.At.Add(time.Duration(a.RefreshPeriodDays) * 24 * time.Hour)
	a.RefreshCount++
	a.UpdatedAt = r.At
	return true, nil
}

func (m *MemoryStore) SetLimit(_ context.Context, principal string, limit models.Money, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[principal]
	if !ok {
		return ErrNotFound
	}
	a.BudgetLimit = limit
	a.UpdatedAt = at
	return nil
}

func (m *MemoryStore) Scan(_ context.Context, after string, limit int) ([]models.BudgetAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]models.BudgetAccount, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m.accounts[id], false))
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
