package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newSweepCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one periodic sweep immediately and print its report",
	}

	cmd.AddCommand(
		sweepCmd(configPath, "monitor", "Check thresholds and start grace periods or suspensions",
			func(ctx context.Context, a *app) (any, error) { return a.monitor.Sweep(ctx) }),
		sweepCmd(configPath, "refresh", "Reset or restore principals whose budget window elapsed",
			func(ctx context.Context, a *app) (any, error) { return a.refresh.Sweep(ctx) }),
		sweepCmd(configPath, "reconcile", "Report ledger status that disagrees with access restrictions",
			func(ctx context.Context, a *app) (any, error) { return a.reconcile.Sweep(ctx) }),
		sweepCmd(configPath, "workflows", "Execute workflow runs that are due",
			func(ctx context.Context, a *app) (any, error) {
				n, err := a.engine.RunDue(ctx)
				return map[string]int{"executed": n}, err
			}),
	)
	return cmd
}

func sweepCmd(configPath *string, name, short string, run func(context.Context, *app) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := run(ctx, a)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
