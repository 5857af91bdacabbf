package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all Budgeteer configuration.
type Config struct {
	DBPath   string         `yaml:"db_path"`
	Listen   string         `yaml:"listen"`
	Log      LogConfig      `yaml:"log"`
	Budget   BudgetConfig   `yaml:"budget"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Access   AccessConfig   `yaml:"access"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Audit    AuditConfig    `yaml:"audit"`
}

// LogConfig controls log level and output format ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BudgetConfig holds the enforcement thresholds. All fields are hot reloadable.
type BudgetConfig struct {
	DefaultLimit       float64 `yaml:"default_limit"`
	WarnPercent        float64 `yaml:"warn_percent"`
	CriticalPercent    float64 `yaml:"critical_percent"`
	GracePeriodSeconds int     `yaml:"grace_period_seconds"`
	RefreshPeriodDays  int     `yaml:"refresh_period_days"`
	// AutoCreatePrefix restricts provisioning-triggered budget creation.
	AutoCreatePrefix string `yaml:"auto_create_prefix"`
}

// GracePeriod returns the grace period as a duration.
func (b BudgetConfig) GracePeriod() time.Duration {
	return time.Duration(b.GracePeriodSeconds) * time.Second
}

// PricingConfig controls the pricing cache and the authoritative price sheet.
type PricingConfig struct {
	CacheTTL      time.Duration         `yaml:"cache_ttl"`
	EntryTTL      time.Duration         `yaml:"entry_ttl"`
	DefaultRegion string                `yaml:"default_region"`
	Regions       []string              `yaml:"regions"`
	Models        []models.ModelPricing `yaml:"models"`
}

// LedgerConfig selects the ledger backend: "sqlite", "postgres" or "memory".
type LedgerConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	PageSize    int    `yaml:"page_size"`
}

// AccessConfig selects access controller backends per account type.
type AccessConfig struct {
	// Controllers maps account type to backend: "sqlite", "redis" or "memory".
	Controllers    map[string]string `yaml:"controllers"`
	Redis          RedisConfig       `yaml:"redis"`
	RatePerSecond  float64           `yaml:"rate_per_second"`
	Burst          int               `yaml:"burst"`
	MaxRetries     uint              `yaml:"max_retries"`
	RetryMaxElapse time.Duration     `yaml:"retry_max_elapsed"`
}

// RedisConfig defines the Redis connection used by the redis access backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WorkflowConfig controls the durable workflow runner.
type WorkflowConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
	BatchSize    int           `yaml:"batch_size"`
}

// ScheduleConfig holds standard cron expressions for the periodic jobs.
type ScheduleConfig struct {
	Monitor        string `yaml:"monitor"`
	Refresh        string `yaml:"refresh"`
	Pricing        string `yaml:"pricing"`
	Reconciliation string `yaml:"reconciliation"`
	AuditCleanup   string `yaml:"audit_cleanup"`
}

// IngestConfig controls usage ingestion.
type IngestConfig struct {
	Workers int  `yaml:"workers"`
	Dedup   bool `yaml:"dedup"`
}

// AuditConfig controls the budget event log.
type AuditConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath: "budgeteer.db",
		Listen: ":9090",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Budget: BudgetConfig{
			DefaultLimit:       5.0,
			WarnPercent:        70,
			CriticalPercent:    90,
			GracePeriodSeconds: 300,
			RefreshPeriodDays:  30,
			AutoCreatePrefix:   "BedrockAPIKey-",
		},
		Pricing: PricingConfig{
			CacheTTL:      5 * time.Minute,
			EntryTTL:      24 * time.Hour,
			DefaultRegion: "us-east-1",
			Regions:       []string{"us-east-1"},
		},
		Ledger: LedgerConfig{
			Backend:  "sqlite",
			PageSize: 100,
		},
		Access: AccessConfig{
			Controllers:    map[string]string{string(models.AccountTypeAPIKey): "sqlite"},
			Redis:          RedisConfig{Addr: "localhost:6379", KeyPrefix: "budgeteer"},
			RatePerSecond:  5,
			Burst:          5,
			MaxRetries:     3,
			RetryMaxElapse: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			PollInterval: 5 * time.Second,
			Lease:        time.Minute,
			BatchSize:    50,
		},
		Schedule: ScheduleConfig{
			Monitor:        "*/5 * * * *",
			Refresh:        "0 2 * * *",
			Pricing:        "0 1 * * *",
			Reconciliation: "0 */4 * * *",
			AuditCleanup:   "30 3 * * *",
		},
		Ingest: IngestConfig{
			Workers: 8,
			Dedup:   true,
		},
		Audit: AuditConfig{
			DBPath:        "budgeteer_audit.db",
			RetentionDays: 90,
		},
	}
}

// Load reads a YAML config file, expands environment variables and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when set and returns defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks value ranges and cron expressions.
func (c *Config) Validate() error {
	var errs []error
	b := c.Budget
	if b.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("budget.default_limit must be >= 0, got %v", b.DefaultLimit))
	}
	if b.WarnPercent <= 0 || b.CriticalPercent <= 0 || b.WarnPercent > b.CriticalPercent {
		errs = append(errs, fmt.Errorf("budget thresholds must satisfy 0 < warn_percent <= critical_percent, got %v/%v", b.WarnPercent, b.CriticalPercent))
	}
	if b.GracePeriodSeconds < 0 {
		errs = append(errs, fmt.Errorf("budget.grace_period_seconds must be >= 0, got %d", b.GracePeriodSeconds))
	}
	if b.RefreshPeriodDays <= 0 {
		errs = append(errs, fmt.Errorf("budget.refresh_period_days must be > 0, got %d", b.RefreshPeriodDays))
	}
	switch c.Ledger.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	for accountType, backend := range c.Access.Controllers {
		switch backend {
		case "sqlite", "redis", "memory":
		default:
			errs = append(errs, fmt.Errorf("unknown access backend %q for account type %q", backend, accountType))
		}
	}
	for name, expr := range map[string]string{
		"monitor":        c.Schedule.Monitor,
		"refresh":        c.Schedule.Refresh,
		"pricing":        c.Schedule.Pricing,
		"reconciliation": c.Schedule.Reconciliation,
		"audit_cleanup":  c.Schedule.AuditCleanup,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule.%s %q: %w", name, expr, err))
		}
	}
	return errors.Join(errs...)
}
