package access

import (
	"context"
	"sync"
	"time"
)

// Restriction is the tag set recorded with a revocation.
type Restriction struct {
	Level     string
	Timestamp time.Time
}

// Memory is an in-process Controller.
type Memory struct {
	mu      sync.Mutex
	revoked map[string]Restriction
	now     func() time.Time
}

// NewMemory creates an empty Memory controller.
func NewMemory() *Memory {
	return &Memory{
		revoked: make(map[string]Restriction),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Revoke(_ context.Context, principal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[principal]; ok {
		return false, nil
	}
	m.revoked[principal] = Restriction{Level: LevelFullSuspension, Timestamp: m.now()}
	return true, nil
}

func (m *Memory) Grant(_ context.Context, principal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[principal]; !ok {
		return false, nil
	}
	delete(m.revoked, principal)
	return true, nil
}

func (m *Memory) IsRevoked(_ context.Context, principal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[principal]
	return ok, nil
}

func (m *Memory) ValidateRestriction(_ context.Context, principal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.revoked[principal]
	return ok && r.Level == LevelFullSuspension, nil
}

// Restriction returns the tags recorded for principal.
func (m *Memory) Restriction(principal string) (Restriction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.revoked[principal]
	return r, ok
}

func (m *Memory) Close() error { return nil }
