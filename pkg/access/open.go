package access

import (
	"context"
	"fmt"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/retry"
)

// Open builds a Registry from cfg. Backends are shared between account
// types that name the same one, and every controller is throttled.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Registry, error) {
	reg := NewRegistry()
	backends := make(map[string]Controller)
	policy := retry.Policy{MaxTries: cfg.Access.MaxRetries, MaxElapsed: cfg.Access.RetryMaxElapse}

	for accountType, backend := range cfg.Access.Controllers {
		c, ok := backends[backend]
		if !ok {
			var raw Controller
			var err error
			switch backend {
			case "sqlite":
				raw, err = NewSQLite(cfg.DBPath)
			case "redis":
				raw, err = NewRedis(ctx, cfg.Access.Redis)
			case "memory":
				raw = NewMemory()
			default:
				err = fmt.Errorf("unknown access backend %q", backend)
			}
			if err != nil {
				reg.Close()
				return nil, err
			}
			c = NewThrottled(raw, cfg.Access.RatePerSecond, cfg.Access.Burst, policy, m)
			backends[backend] = c
		}
		reg.Register(models.AccountType(accountType), c)
	}
	return reg, nil
}
