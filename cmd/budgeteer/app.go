package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/access"
	"github.com/pario-ai/budgeteer/pkg/audit"
	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/cost"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/ingest"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/logging"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/monitor"
	"github.com/pario-ai/budgeteer/pkg/pricing"
	"github.com/pario-ai/budgeteer/pkg/reconcile"
	"github.com/pario-ai/budgeteer/pkg/refresh"
	"github.com/pario-ai/budgeteer/pkg/scheduler"
	"github.com/pario-ai/budgeteer/pkg/tracker"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

// markRetention bounds how long processed-event marks are kept for dedup.
const markRetention = 7 * 24 * time.Hour

// app holds every wired component of the engine.
type app struct {
	cfg      *config.Live
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      *events.Bus

	audit     *audit.Logger
	ledger    *ledger.Ledger
	prices    *pricing.SQLiteStore
	cache     *pricing.Cache
	rates     *pricing.Resolver
	calc      *cost.Calculator
	tracker   *tracker.SQLiteTracker
	access    *access.Registry
	runs      *workflow.Store
	engine    *workflow.Engine
	deps      workflow.Deps
	monitor   *monitor.Monitor
	refresh   *refresh.Sweeper
	reconcile *reconcile.Reconciler

	processor   *ingest.Processor
	provisioner *ingest.Provisioner

	closers []func() error
}

// newApp loads configuration and opens every store. The caller must call close.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, nil); err != nil {
		return nil, err
	}

	a := &app{cfg: config.NewLive(configPath, cfg), registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.open(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, cfg *config.Config) error {
	var err error

	a.audit, err = audit.New(cfg.Audit)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	a.closers = append(a.closers, a.audit.Close)

	a.bus = events.NewBus(a.metrics)
	a.bus.Subscribe("log", events.LogSink())
	a.bus.Subscribe("audit", a.audit)

	store, err := ledger.Open(ctx, cfg.Ledger, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	a.ledger = ledger.New(store, a.cfg, a.bus, ledger.WithMetrics(a.metrics))

	a.prices, err = pricing.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init pricing table: %w", err)
	}
	a.closers = append(a.closers, a.prices.Close)
	a.cache = pricing.NewCache(cfg.Pricing.CacheTTL)
	a.rates = pricing.NewResolver(a.cache, a.prices, cfg.Pricing.DefaultRegion, a.metrics)
	a.calc = cost.New(a.rates)

	a.tracker, err = tracker.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}
	a.closers = append(a.closers, a.tracker.Close)

	a.access, err = access.Open(ctx, cfg, a.metrics)
	if err != nil {
		return fmt.Errorf("init access controllers: %w", err)
	}
	a.closers = append(a.closers, a.access.Close)

	a.runs, err = workflow.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init workflow store: %w", err)
	}
	a.closers = append(a.closers, a.runs.Close)

	a.deps = workflow.Deps{
		Ledger:   a.ledger,
		Access:   a.access,
		Notifier: events.LogNotifier{},
		Events:   a.bus,
	}
	a.engine = workflow.NewEngine(a.runs, cfg.Workflow, workflow.WithMetrics(a.metrics))
	a.engine.Register(workflow.Suspension(a.deps))
	a.engine.Register(workflow.Restoration(a.deps))

	suspend := func(ctx context.Context, principal string, p models.SuspensionPayload) error {
		return workflow.SuspendNow(ctx, a.deps, principal, p)
	}
	a.monitor = monitor.New(a.ledger, a.engine, suspend, a.cfg, a.bus, a.metrics)
	a.refresh = refresh.New(a.ledger, a.engine)
	a.reconcile = reconcile.New(a.ledger, a.access, a.bus)

	a.processor = ingest.NewProcessor(a.ledger, a.calc, a.tracker, a.cfg, a.metrics)
	a.provisioner = ingest.NewProvisioner(a.ledger, a.cfg)
	return nil
}

// close releases stores in reverse order of opening.
func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("close failed")
	}
}

// refreshPricing rewrites the pricing table from the current price sheet.
func (a *app) refreshPricing(ctx context.Context) (int, error) {
	p := a.cfg.Get().Pricing
	return pricing.NewRefresher(a.prices, a.cache, p.Models, p.Regions, p.EntryTTL).Run(ctx)
}

// scheduler registers the periodic jobs. Jobs with an empty schedule stay
// available to RunNow.
func (a *app) scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.metrics)
	s := a.cfg.Get().Schedule

	jobs := []scheduler.Job{
		{Name: "monitor", Schedule: s.Monitor, Run: func(ctx context.Context) error {
			_, err := a.monitor.Sweep(ctx)
			return err
		}},
		{Name: "refresh", Schedule: s.Refresh, Run: func(ctx context.Context) error {
			_, err := a.refresh.Sweep(ctx)
			return err
		}},
		{Name: "pricing", Schedule: s.Pricing, Run: func(ctx context.Context) error {
			n, err := a.refreshPricing(ctx)
			if err == nil {
				log.Info().Int("rows", n).Msg("pricing table refreshed")
			}
			return err
		}},
		{Name: "reconciliation", Schedule: s.Reconciliation, Run: func(ctx context.Context) error {
			_, err := a.reconcile.Sweep(ctx)
			return err
		}},
		{Name: "audit_cleanup", Schedule: s.AuditCleanup, Run: func(ctx context.Context) error {
			if _, err := a.audit.Cleanup(ctx); err != nil {
				return err
			}
			_, err := a.tracker.PurgeMarks(ctx, time.Now().Add(-markRetention))
			return err
		}},
	}
	for _, job := range jobs {
		if err := sched.Add(ctx, job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
