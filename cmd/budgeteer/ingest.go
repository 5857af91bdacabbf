package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/ingest"
)

func newIngestCmd(configPath *string) *cobra.Command {
	var (
		format  string
		workers int
		sweep   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest newline-delimited usage or provisioning events from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if format == "provisioning" {
				return ingestProvisioning(ctx, a, in)
			}

			var decode ingest.Decoder
			switch format {
			case "json":
				decode = ingest.DecodeJSON
			case "invocation":
				decode = ingest.ParseInvocationLog
			default:
				return fmt.Errorf("unknown format %q (use json, invocation or provisioning)", format)
			}

			if workers <= 0 {
				workers = a.cfg.Get().Ingest.Workers
			}
			stats, err := a.processor.Run(ctx, in, decode, workers)
			if err != nil {
				return err
			}
			fmt.Printf("Lines: %d  Accrued: %d  Duplicates: %d  Malformed: %d  Skipped: %d  Failed: %d\n",
				stats.Lines, stats.Accrued, stats.Duplicates, stats.Malformed, stats.Skipped, stats.Failed)

			if sweep {
				r, err := a.monitor.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Monitor: %d exceeded, %d grace periods started, %d escalated\n",
					r.Exceeded, r.GraceStarted, r.Escalated)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "input format: json, invocation or provisioning")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (defaults to ingest.workers)")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "run a monitor sweep after ingesting")
	return cmd
}

func ingestProvisioning(ctx context.Context, a *app, in io.Reader) error {
	var lines, created, ignored, malformed, failed int
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		lines++
		ev, err := ingest.ParseProvisioningEvent(line)
		if err != nil {
			malformed++
			log.Warn().Err(err).Int("line", lines).Msg("skipping provisioning event")
			continue
		}
		ok, err := a.provisioner.Handle(ctx, ev)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return err
		case err != nil:
			failed++
			log.Error().Err(err).Str("principal", ev.Principal).Msg("provisioning failed")
		case ok:
			created++
		default:
			ignored++
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Printf("Lines: %d  Created: %d  Ignored: %d  Malformed: %d  Failed: %d\n", lines, created, ignored, malformed, failed)
	return nil
}
