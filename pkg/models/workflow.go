package models

import (
	"encoding/json"
	"time"
)

// WorkflowKind identifies a workflow definition.
type WorkflowKind string

const (
	WorkflowSuspension  WorkflowKind = "suspension"
	WorkflowRestoration WorkflowKind = "restoration"
)

// RunState is the lifecycle state of a workflow run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunWaiting   RunState = "waiting"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// Terminal reports whether no further steps will execute.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// WorkflowRun is the persisted state of one workflow execution.
type WorkflowRun struct {
	ID        string          `json:"id"`
	Kind      WorkflowKind    `json:"kind"`
	Principal string          `json:"principal_id"`
	State     RunState        `json:"state"`
	Step      string          `json:"step"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	WakeAt    *time.Time      `json:"wake_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IdempotencyKey returns the key that admits one active run per principal and kind.
func IdempotencyKey(principal string, kind WorkflowKind) string {
	switch kind {
	case WorkflowSuspension:
		return principal + ":suspend"
	case WorkflowRestoration:
		return principal + ":restore"
	}
	return principal + ":" + string(kind)
}

// SuspensionPayload is the trigger payload of a suspension run.
type SuspensionPayload struct {
	AccountType  AccountType `json:"account_type"`
	GraceSeconds int         `json:"grace_seconds"`
	Reason       string      `json:"reason"`
	Spent        Money       `json:"spent"`
	Limit        Money       `json:"limit"`
}

// RestorationPayload is the trigger payload of a restoration run.
type RestorationPayload struct {
	AccountType AccountType `json:"account_type"`
	Reason      string      `json:"reason"`
}
