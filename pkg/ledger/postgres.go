package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	ph:   func(n int) string { return "$" + strconv.Itoa(n) },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS budget_accounts (
			principal_id        TEXT PRIMARY KEY,
			account_type        TEXT NOT NULL,
			budget_limit        BIGINT NOT NULL,
			spent               BIGINT NOT NULL DEFAULT 0 CHECK (spent >= 0),
			status              TEXT NOT NULL,
			threshold_state     TEXT NOT NULL DEFAULT 'normal',
			grace_deadline      BIGINT,
			period_start        BIGINT NOT NULL,
			refresh_date        BIGINT NOT NULL,
			refresh_period_days BIGINT NOT NULL,
			refresh_count       BIGINT NOT NULL DEFAULT 0,
			auto_created        INTEGER NOT NULL DEFAULT 0,
			suspended_at        BIGINT,
			restored_at         BIGINT,
			created_at          BIGINT NOT NULL,
			updated_at          BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_accounts_status ON budget_accounts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_accounts_refresh ON budget_accounts(refresh_date)`,
		`CREATE TABLE IF NOT EXISTS budget_model_spend (
			principal_id TEXT NOT NULL,
			model        TEXT NOT NULL,
			spent        BIGINT NOT NULL,
			PRIMARY KEY (principal_id, model)
		)`,
	},
}

// NewPostgresStore connects to dsn and migrates the ledger tables.
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &sqlStore{db: db, d: postgresDialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreDB wraps an open handle without migrating.
func NewPostgresStoreDB(db *sql.DB) Store {
	return &sqlStore{db: db, d: postgresDialect}
}
