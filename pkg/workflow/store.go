package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("workflow run not found")

// ErrLeaseLost is returned when a run was claimed by another runner.
var ErrLeaseLost = errors.New("workflow lease lost")

const runColumns = `id, kind, principal_id, state, step, payload, wake_at, error, created_at, updated_at`

// Store persists workflow runs in SQLite. active_key holds the idempotency
// key while a run is live and is cleared when it ends, so at most one live
// run exists per key.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the workflow_runs table in the database at path.
func NewStore(path string) (*Store, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflow db: %w", err)
	}
	err = sqlitedb.Migrate(db,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			active_key   TEXT UNIQUE,
			state        TEXT NOT NULL,
			step         TEXT NOT NULL,
			payload      TEXT,
			wake_at      INTEGER,
			lease_owner  TEXT,
			lease_until  INTEGER,
			error        TEXT,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_due ON workflow_runs(state, wake_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_principal ON workflow_runs(principal_id, created_at)`,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate workflow db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRun(r interface{ Scan(...any) error }) (models.WorkflowRun, error) {
	var (
		run              models.WorkflowRun
		payload, errText sql.NullString
		wake             sql.NullInt64
		created, updated int64
	)
	if err := r.Scan(&run.ID, &run.Kind, &run.Principal, &run.State, &run.Step, &payload, &wake, &errText, &created, &updated); err != nil {
		return run, err
	}
	if payload.Valid && payload.String != "" {
		run.Payload = []byte(payload.String)
	}
	run.WakeAt = sqlitedb.FromNullEpoch(wake)
	run.Error = errText.String
	run.CreatedAt = sqlitedb.FromEpoch(created)
	run.UpdatedAt = sqlitedb.FromEpoch(updated)
	return run, nil
}

// Insert stores a new run under key. If a live run already holds key, that
// run is returned together with ErrAlreadyRunning.
func (s *Store) Insert(ctx context.Context, run models.WorkflowRun, key string) (models.WorkflowRun, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, kind, principal_id, active_key, state, step, payload, wake_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(active_key) DO NOTHING`,
		run.ID, string(run.Kind), run.Principal, key, string(run.State), run.Step, string(run.Payload),
		sqlitedb.NullEpoch(run.WakeAt), sqlitedb.Epoch(run.CreatedAt), sqlitedb.Epoch(run.UpdatedAt))
	if err != nil {
		return run, fmt.Errorf("insert workflow run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return run, fmt.Errorf("insert workflow run: %w", err)
	}
	if n == 0 {
		existing, err := scanRun(s.db.QueryRowContext(ctx,
			`SELECT `+runColumns+` FROM workflow_runs WHERE active_key = ?`, key))
		if err != nil {
			return run, fmt.Errorf("load live run %s: %w", key, err)
		}
		return existing, ErrAlreadyRunning
	}
	return run, nil
}

// Get returns a run by id.
func (s *Store) Get(ctx context.Context, id string) (models.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrRunNotFound
	}
	if err != nil {
		return run, fmt.Errorf("get workflow run: %w", err)
	}
	return run, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Principal string
	Kind      models.WorkflowKind
	State     models.RunState
	Limit     int
}

// List returns runs matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]models.WorkflowRun, error) {
	q := `SELECT ` + runColumns + ` FROM workflow_runs WHERE 1=1`
	var args []any
	if f.Principal != "" {
		q += " AND principal_id = ?"
		args = append(args, f.Principal)
	}
	if f.Kind != "" {
		q += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	if f.State != "" {
		q += " AND state = ?"
		args = append(args, string(f.State))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Claim leases up to limit due runs to owner until now+lease. A run is due
// when it is live, its wake time has passed and no other lease is current.
func (s *Store) Claim(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]models.WorkflowRun, error) {
	ts := sqlitedb.Epoch(now)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM workflow_runs
		 WHERE state IN (?, ?)
		   AND (wake_at IS NULL OR wake_at <= ?)
		   AND (lease_until IS NULL OR lease_until <= ?)
		 ORDER BY COALESCE(wake_at, created_at), created_at
		 LIMIT ?`,
		string(models.RunPending), string(models.RunWaiting), ts, ts, limit)
	if err != nil {
		return nil, fmt.Errorf("find due runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due run: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []models.WorkflowRun
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE workflow_runs SET lease_owner = ?, lease_until = ?
			 WHERE id = ? AND state IN (?, ?) AND (lease_until IS NULL OR lease_until <= ?)`,
			owner, sqlitedb.Epoch(now.Add(lease)), id, string(models.RunPending), string(models.RunWaiting), ts)
		if err != nil {
			return claimed, fmt.Errorf("lease run %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		run, err := s.Get(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, run)
	}
	return claimed, nil
}

// Save persists a run's progress under owner's lease. Terminal and waiting
// states release the lease; terminal states also free the idempotency key.
func (s *Store) Save(ctx context.Context, owner string, run models.WorkflowRun) error {
	q := `UPDATE workflow_runs SET state = ?, step = ?, wake_at = ?, error = ?, updated_at = ?`
	if run.State.Terminal() {
		q += `, active_key = NULL, lease_owner = NULL, lease_until = NULL`
	} else if run.State == models.RunWaiting {
		q += `, lease_owner = NULL, lease_until = NULL`
	}
	q += ` WHERE id = ? AND lease_owner = ?`

	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, q,
		string(run.State), run.Step, sqlitedb.NullEpoch(run.WakeAt), errText, sqlitedb.Epoch(run.UpdatedAt),
		run.ID, owner)
	if err != nil {
		return fmt.Errorf("save workflow run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save workflow run %s: %w", run.ID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
