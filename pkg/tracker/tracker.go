// Package tracker keeps the append-only usage record log and the
// processed-event marks used to drop duplicate deliveries.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

// ErrDuplicateEvent is returned by Claim when the event id was already seen.
var ErrDuplicateEvent = errors.New("duplicate usage event")

// Tracker records and queries processed usage.
type Tracker interface {
	// Claim marks eventID as processed. It returns ErrDuplicateEvent when the
	// id is already marked.
	Claim(ctx context.Context, eventID, principal string, at time.Time) error
	// Release removes a mark so a failed event can be redelivered.
	Release(ctx context.Context, eventID string) error
	// Record stores a usage record and returns its id.
	Record(ctx context.Context, rec models.UsageRecord) (int64, error)
	// QueryByPrincipal returns records for a principal since a given time, newest first.
	QueryByPrincipal(ctx context.Context, principal string, since time.Time) ([]models.UsageRecord, error)
	// TotalCost returns the summed cost of a principal's records since a given time.
	TotalCost(ctx context.Context, principal string, since time.Time) (models.Money, error)
	// Summary returns usage aggregated by principal and model, optionally filtered.
	Summary(ctx context.Context, principal string) ([]models.UsageSummary, error)
	// PurgeMarks deletes processed-event marks older than before.
	PurgeMarks(ctx context.Context, before time.Time) (int64, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL DEFAULT '',
	principal_id TEXT NOT NULL,
	model TEXT NOT NULL,
	region TEXT NOT NULL,
	usage_type TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cache_write_tokens INTEGER NOT NULL,
	cache_read_tokens INTEGER NOT NULL,
	cost INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_principal_time ON usage_records(principal_id, created_at);
`

const createMarksTable = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	processed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_events_time ON processed_events(processed_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	if _, err := db.Exec(createMarksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate processed events table: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Claim marks eventID as processed.
func (t *SQLiteTracker) Claim(ctx context.Context, eventID, principal string, at time.Time) error {
	res, err := t.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, principal_id, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		eventID, principal, sqlitedb.Epoch(at),
	)
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// Release removes the mark for eventID.
func (t *SQLiteTracker) Release(ctx context.Context, eventID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM processed_events WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("release event: %w", err)
	}
	return nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) (int64, error) {
	res, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (event_id, principal_id, model, region, usage_type,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.Principal, rec.Model, rec.Region, rec.UsageType,
		rec.Tokens.Input, rec.Tokens.Output, rec.Tokens.CacheWrite, rec.Tokens.CacheRead,
		int64(rec.Cost), sqlitedb.Epoch(rec.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("record usage: %w", err)
	}
	return res.LastInsertId()
}

// QueryByPrincipal returns usage records for a principal since a given time.
func (t *SQLiteTracker) QueryByPrincipal(ctx context.Context, principal string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, event_id, principal_id, model, region, usage_type,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens, cost, created_at
		 FROM usage_records WHERE principal_id = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		principal, sqlitedb.Epoch(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.EventID, &r.Principal, &r.Model, &r.Region, &r.UsageType,
			&r.Tokens.Input, &r.Tokens.Output, &r.Tokens.CacheWrite, &r.Tokens.CacheRead, &r.Cost, &created); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.CreatedAt = sqlitedb.FromEpoch(created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalCost returns the summed cost for a principal since a given time.
func (t *SQLiteTracker) TotalCost(ctx context.Context, principal string, since time.Time) (models.Money, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE principal_id = ? AND created_at >= ?`,
		principal, sqlitedb.Epoch(since),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return models.Money(total), nil
}

// Summary returns aggregated usage grouped by principal and model.
func (t *SQLiteTracker) Summary(ctx context.Context, principal string) ([]models.UsageSummary, error) {
	query := `SELECT principal_id, model, COUNT(*), SUM(input_tokens), SUM(output_tokens),
		SUM(cache_write_tokens + cache_read_tokens), SUM(cost)
		 FROM usage_records`
	var args []any
	if principal != "" {
		query += ` WHERE principal_id = ?`
		args = append(args, principal)
	}
	query += ` GROUP BY principal_id, model ORDER BY principal_id, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Principal, &s.Model, &s.RequestCount, &s.InputTokens, &s.OutputTokens, &s.CacheTokens, &s.Cost); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// PurgeMarks deletes processed-event marks older than before.
func (t *SQLiteTracker) PurgeMarks(ctx context.Context, before time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < ?`, sqlitedb.Epoch(before))
	if err != nil {
		return 0, fmt.Errorf("purge marks: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
