package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/audit"
	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/models"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the budget event log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(configPath),
		newAuditStatsCmd(configPath),
		newAuditCleanupCmd(configPath),
	)
	return cmd
}

func newAuditSearchCmd(configPath *string) *cobra.Command {
	var (
		principal string
		eventType string
		since     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search budget events",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.EventQueryOpts{
				Principal: principal,
				Type:      models.EventType(eventType),
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			evs, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatEvents(evs))
			return nil
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "filter by principal")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type, e.g. grace_started")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")
	return cmd
}

func newAuditStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by type and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatEventStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d events.\n", deleted)
			return nil
		},
	}
}

// openAuditLogger opens only the event log, leaving the other stores closed.
func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatEvents(evs []models.Event) string {
	if len(evs) == 0 {
		return "No events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %-28s %14s %14s  %s\n",
		"TIME", "TYPE", "PRINCIPAL", "SPENT", "LIMIT", "DETAIL")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, e := range evs {
		fmt.Fprintf(&b, "%-20s %-24s %-28s %14s %14s  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, e.Principal,
			e.Spent, e.Limit, formatDetail(e.Detail))
	}
	return b.String()
}

func formatDetail(detail map[string]string) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + detail[k]
	}
	return strings.Join(parts, " ")
}

func formatEventStats(stats []models.EventStat) string {
	if len(stats) == 0 {
		return "No events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %-12s %8s\n", "TYPE", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-28s %-12s %8d\n", s.Type, s.Day, s.Count)
	}
	return b.String()
}
