package models

import "time"

// EventType names a budget lifecycle event.
type EventType string

const (
	EventGraceStarted           EventType = "grace_started"
	EventGraceExpired           EventType = "grace_expired"
	EventSuspensionRequired     EventType = "suspension_required"
	EventUserSuspended          EventType = "user_suspended"
	EventUserRestored           EventType = "user_restored"
	EventBudgetAutoCreated      EventType = "budget_auto_created"
	EventThresholdChanged       EventType = "threshold_changed"
	EventReconciliationMismatch EventType = "reconciliation_mismatch"
)

// Event is a fire-and-forget notification about a principal's budget.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Principal string            `json:"principal_id"`
	Spent     Money             `json:"spent"`
	Limit     Money             `json:"limit"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// EventQueryOpts specifies filters for querying the event log.
type EventQueryOpts struct {
	Principal string
	Type      EventType
	Since     time.Time
	Limit     int
}

// EventStat holds event counts for a type/day combination.
type EventStat struct {
	Type  EventType
	Day   string
	Count int
}
