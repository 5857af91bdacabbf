package ledger

import (
	"context"
	"database/sql"

	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS budget_accounts (
			principal_id        TEXT PRIMARY KEY,
			account_type        TEXT NOT NULL,
			budget_limit        INTEGER NOT NULL,
			spent               INTEGER NOT NULL DEFAULT 0 CHECK (spent >= 0),
			status              TEXT NOT NULL,
			threshold_state     TEXT NOT NULL DEFAULT 'normal',
			grace_deadline      INTEGER,
			period_start        INTEGER NOT NULL,
			refresh_date        INTEGER NOT NULL,
			refresh_period_days INTEGER NOT NULL,
			refresh_count       INTEGER NOT NULL DEFAULT 0,
			auto_created        INTEGER NOT NULL DEFAULT 0,
			suspended_at        INTEGER,
			restored_at         INTEGER,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_accounts_status ON budget_accounts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_accounts_refresh ON budget_accounts(refresh_date)`,
		`CREATE TABLE IF NOT EXISTS budget_model_spend (
			principal_id TEXT NOT NULL,
			model        TEXT NOT NULL,
			spent        INTEGER NOT NULL,
			PRIMARY KEY (principal_id, model)
		)`,
	},
}

// NewSQLiteStore opens (or creates) the ledger tables in the SQLite database at path.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStoreDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreDB uses an already opened SQLite handle. The store takes
// ownership of db.
func NewSQLiteStoreDB(db *sql.DB) (Store, error) {
	s := &sqlStore{db: db, d: sqliteDialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}
