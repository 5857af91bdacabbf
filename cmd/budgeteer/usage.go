package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/tracker"
)

func newUsageCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect recorded usage",
	}
	cmd.AddCommand(newUsageStatsCmd(configPath))
	return cmd
}

func newUsageStatsCmd(configPath *string) *cobra.Command {
	var (
		principal string
		history   bool
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded usage by principal and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()

			// Per-invocation history for one principal
			if history {
				if principal == "" {
					return fmt.Errorf("--history requires --principal")
				}
				from := time.Now().Add(-since)
				recs, err := tr.QueryByPrincipal(ctx, principal, from)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No usage records found.")
					return nil
				}
				total, err := tr.TotalCost(ctx, principal, from)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tMODEL\tREGION\tINPUT\tOUTPUT\tCACHE W\tCACHE R\tCOST")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Model, r.Region,
						r.Tokens.Input, r.Tokens.Output, r.Tokens.CacheWrite, r.Tokens.CacheRead, r.Cost)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Printf("\nTotal: %s across %d invocations\n", total, len(recs))
				return nil
			}

			// Default: usage summary
			summaries, err := tr.Summary(ctx, principal)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRINCIPAL\tMODEL\tREQUESTS\tINPUT\tOUTPUT\tCACHE\tCOST")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					s.Principal, s.Model, s.RequestCount, s.InputTokens, s.OutputTokens, s.CacheTokens, s.Cost)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "filter by principal")
	cmd.Flags().BoolVar(&history, "history", false, "list individual invocations for --principal")
	cmd.Flags().DurationVar(&since, "since", 30*24*time.Hour, "history window")
	return cmd
}
