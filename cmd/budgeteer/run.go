package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/budgeteer/pkg/server"
)

// reloadDebounce collapses bursts of config file writes.
const reloadDebounce = 250 * time.Millisecond

func newRunCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the enforcement engine: HTTP ingestion, scheduled sweeps and workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if n, err := a.refreshPricing(ctx); err != nil {
				log.Warn().Err(err).Msg("initial pricing refresh failed, fallback rates apply")
			} else {
				log.Info().Int("rows", n).Msg("pricing table loaded")
			}

			sched, err := a.scheduler(ctx)
			if err != nil {
				return err
			}

			addr := a.cfg.Get().Listen
			if listen != "" {
				addr = listen
			}
			srv := server.New(addr, server.Deps{
				Processor:   a.processor,
				Provisioner: a.provisioner,
				Ledger:      a.ledger,
				Runs:        a.runs,
				Gatherer:    a.registry,
			})

			g, gctx := errgroup.WithContext(ctx)
			sched.Start(gctx)
			g.Go(func() error { return a.engine.Run(gctx) })
			g.Go(func() error { return srv.ListenAndServe(gctx) })
			g.Go(func() error { return a.cfg.Watch(gctx, reloadDebounce) })

			log.Info().Str("version", version).Str("config", *configPath).Msg("budgeteer started")
			err = g.Wait()
			sched.Stop()
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the configured listen address")
	return cmd
}
