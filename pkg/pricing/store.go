package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

// ErrNotFound is returned when no unexpired pricing row exists.
var ErrNotFound = errors.New("pricing entry not found")

// Store is the persistent pricing table.
type Store interface {
	// Lookup returns the unexpired entry for (model, region).
	Lookup(ctx context.Context, model, region string) (models.PricingEntry, error)
	// Upsert writes an entry, replacing any previous row for (model, region).
	Upsert(ctx context.Context, e models.PricingEntry) error
	// List returns all rows, expired ones included.
	List(ctx context.Context) ([]models.PricingEntry, error)
	// Close releases resources.
	Close() error
}

// SQLiteStore implements Store with a SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const createPricingTable = `
CREATE TABLE IF NOT EXISTS pricing_entries (
	model TEXT NOT NULL,
	region TEXT NOT NULL,
	input_per_1k REAL NOT NULL,
	output_per_1k REAL NOT NULL,
	source TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (model, region)
);
`

// NewSQLiteStore opens the pricing table in dbPath, creating it if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open pricing db: %w", err)
	}
	if err := sqlitedb.Migrate(db, createPricingTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pricing db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Lookup returns the unexpired entry for (model, region).
func (s *SQLiteStore) Lookup(ctx context.Context, model, region string) (models.PricingEntry, error) {
	var e models.PricingEntry
	var updated, expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT model, region, input_per_1k, output_per_1k, source, updated_at, expires_at
		 FROM pricing_entries WHERE model = ? AND region = ? AND expires_at > ?`,
		model, region, s.now().Unix(),
	).Scan(&e.Model, &e.Region, &e.InputRate, &e.OutputRate, &e.Source, &updated, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PricingEntry{}, ErrNotFound
	}
	if err != nil {
		return models.PricingEntry{}, fmt.Errorf("lookup pricing: %w", err)
	}
	e.UpdatedAt = sqlitedb.FromEpoch(updated)
	e.ExpiresAt = sqlitedb.FromEpoch(expires)
	return e, nil
}

// Upsert writes an entry.
func (s *SQLiteStore) Upsert(ctx context.Context, e models.PricingEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pricing_entries (model, region, input_per_1k, output_per_1k, source, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model, region) DO UPDATE SET
			input_per_1k = excluded.input_per_1k,
			output_per_1k = excluded.output_per_1k,
			source = excluded.source,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		e.Model, e.Region, e.InputRate, e.OutputRate, string(e.Source),
		sqlitedb.Epoch(e.UpdatedAt), sqlitedb.Epoch(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pricing: %w", err)
	}
	return nil
}

// List returns all rows ordered by model and region.
func (s *SQLiteStore) List(ctx context.Context) ([]models.PricingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, region, input_per_1k, output_per_1k, source, updated_at, expires_at
		 FROM pricing_entries ORDER BY model, region`)
	if err != nil {
		return nil, fmt.Errorf("list pricing: %w", err)
	}
	defer rows.Close()

	var entries []models.PricingEntry
	for rows.Next() {
		var e models.PricingEntry
		var updated, expires int64
		if err := rows.Scan(&e.Model, &e.Region, &e.InputRate, &e.OutputRate, &e.Source, &updated, &expires); err != nil {
			return nil, fmt.Errorf("scan pricing: %w", err)
		}
		e.UpdatedAt = sqlitedb.FromEpoch(updated)
		e.ExpiresAt = sqlitedb.FromEpoch(expires)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
