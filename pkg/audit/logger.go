// Package audit persists budget lifecycle events to a dedicated SQLite
// database for later review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

// Logger writes and queries budget events in a dedicated SQLite database.
type Logger struct {
	db  *sql.DB
	cfg config.AuditConfig
	now func() time.Time
}

// New opens the audit SQLite database and creates the schema. Retention is
// applied by calling Cleanup, normally from the scheduler.
func New(cfg config.AuditConfig) (*Logger, error) {
	db, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return &Logger{
		db:  db,
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func migrate(db *sql.DB) error {
	return sqlitedb.Migrate(db,
		`CREATE TABLE IF NOT EXISTS budget_events (
			event_id     TEXT PRIMARY KEY,
			event_type   TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			spent        INTEGER NOT NULL,
			budget_limit INTEGER NOT NULL,
			detail       TEXT,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_principal ON budget_events(principal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON budget_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON budget_events(created_at)`,
	)
}

// Log inserts an event. Re-logging an event id is a no-op.
func (l *Logger) Log(ctx context.Context, ev models.Event) error {
	if l == nil || l.db == nil {
		return nil
	}
	var detail sql.NullString
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("encode event detail: %w", err)
		}
		detail = sql.NullString{String: string(b), Valid: true}
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = l.now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO budget_events
		(event_id, event_type, principal_id, spent, budget_limit, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Principal, int64(ev.Spent), int64(ev.Limit), detail, sqlitedb.Epoch(created),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Handle implements events.Sink.
func (l *Logger) Handle(ctx context.Context, ev models.Event) error {
	return l.Log(ctx, ev)
}

// Query returns events matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error) {
	q := `SELECT event_id, event_type, principal_id, spent, budget_limit, detail, created_at
		FROM budget_events WHERE 1=1`
	var args []any

	if opts.Principal != "" {
		q += " AND principal_id = ?"
		args = append(args, opts.Principal)
	}
	if opts.Type != "" {
		q += " AND event_type = ?"
		args = append(args, string(opts.Type))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, sqlitedb.Epoch(opts.Since))
	}

	q += " ORDER BY created_at DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var detail sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.Type, &e.Principal, &e.Spent, &e.Limit, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &e.Detail)
		}
		e.CreatedAt = sqlitedb.FromEpoch(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats returns event counts grouped by type and day.
func (l *Logger) Stats(ctx context.Context) ([]models.EventStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_type, date(created_at, 'unixepoch') AS day, count(*) AS cnt
		 FROM budget_events GROUP BY event_type, day ORDER BY day DESC, event_type`)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	var stats []models.EventStat
	for rows.Next() {
		var s models.EventStat
		var day sql.NullString
		if err := rows.Scan(&s.Type, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan event stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes events older than the configured retention period.
// A non-positive retention keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM budget_events WHERE created_at < ?`, sqlitedb.Epoch(cutoff))
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Int("retention_days", l.cfg.RetentionDays).Msg("audit retention cleanup")
	}
	return n, nil
}

// Close closes the database.
func (l *Logger) Close() error {
	return l.db.Close()
}
