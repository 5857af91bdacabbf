package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

// SQLite records grants in an access_grants table. It is the controller of
// record when no external identity system is wired in.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the access_grants table in the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open access db: %w", err)
	}
	err = sqlitedb.Migrate(db, `CREATE TABLE IF NOT EXISTS access_grants (
		principal_id      TEXT PRIMARY KEY,
		revoked           INTEGER NOT NULL DEFAULT 0,
		restriction_level TEXT,
		restricted_at     INTEGER,
		updated_at        INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate access db: %w", err)
	}
	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLite) Revoke(ctx context.Context, principal string) (bool, error) {
	now := sqlitedb.Epoch(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO access_grants (principal_id, revoked, restriction_level, restricted_at, updated_at)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET
			revoked = 1,
			restriction_level = excluded.restriction_level,
			restricted_at = excluded.restricted_at,
			updated_at = excluded.updated_at
		 WHERE access_grants.revoked = 0`,
		principal, LevelFullSuspension, now, now)
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", principal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", principal, err)
	}
	return n > 0, nil
}

func (s *SQLite) Grant(ctx context.Context, principal string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE access_grants SET revoked = 0, restriction_level = NULL, restricted_at = NULL, updated_at = ?
		 WHERE principal_id = ? AND revoked = 1`,
		sqlitedb.Epoch(s.now()), principal)
	if err != nil {
		return false, fmt.Errorf("grant %s: %w", principal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant %s: %w", principal, err)
	}
	return n > 0, nil
}

func (s *SQLite) IsRevoked(ctx context.Context, principal string) (bool, error) {
	var revoked int
	err := s.db.QueryRowContext(ctx, `SELECT revoked FROM access_grants WHERE principal_id = ?`, principal).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check access %s: %w", principal, err)
	}
	return revoked == 1, nil
}

func (s *SQLite) ValidateRestriction(ctx context.Context, principal string) (bool, error) {
	var level sql.NullString
	var at sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT restriction_level, restricted_at FROM access_grants WHERE principal_id = ? AND revoked = 1`,
		principal).Scan(&level, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate restriction %s: %w", principal, err)
	}
	return level.String == LevelFullSuspension && at.Valid, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
