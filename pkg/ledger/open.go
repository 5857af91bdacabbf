package ledger

import (
	"context"
	"fmt"

	"github.com/pario-ai/budgeteer/pkg/config"
)

// Open returns the Store selected by cfg. dbPath is used by the sqlite backend.
func Open(ctx context.Context, cfg config.LedgerConfig, dbPath string) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(dbPath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
