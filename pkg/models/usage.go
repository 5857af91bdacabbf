package models

import "time"

// UsageTypeInvocation is the usage type of a model invocation.
const UsageTypeInvocation = "invocation"

// TokenCounts holds the four billed token classes of one invocation.
type TokenCounts struct {
	Input      int64 `json:"input_tokens"`
	Output     int64 `json:"output_tokens"`
	CacheWrite int64 `json:"cache_write_tokens"`
	CacheRead  int64 `json:"cache_read_tokens"`
}

// Total returns the sum of all token classes.
func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CacheWrite + t.CacheRead
}

// UsageEvent is a decoded usage notification for one invocation.
type UsageEvent struct {
	EventID   string      `json:"event_id,omitempty"`
	Principal string      `json:"principal_id"`
	Model     string      `json:"model_id"`
	Region    string      `json:"region,omitempty"`
	Tokens    TokenCounts `json:"tokens"`
	UsageType string      `json:"usage_type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// UsageRecord is the append-only audit row for a processed usage event.
type UsageRecord struct {
	ID        int64       `json:"id"`
	EventID   string      `json:"event_id,omitempty"`
	Principal string      `json:"principal_id"`
	Model     string      `json:"model_id"`
	Region    string      `json:"region"`
	UsageType string      `json:"usage_type"`
	Tokens    TokenCounts `json:"tokens"`
	Cost      Money       `json:"cost"`
	CreatedAt time.Time   `json:"created_at"`
}

// UsageSummary aggregates usage per principal and model.
type UsageSummary struct {
	Principal    string `json:"principal_id"`
	Model        string `json:"model_id"`
	RequestCount int    `json:"request_count"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CacheTokens  int64  `json:"cache_tokens"`
	Cost         Money  `json:"cost"`
}
