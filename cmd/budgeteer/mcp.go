package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve budget, usage and workflow queries over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol; newApp logs to stderr.
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			srv := mcp.New(mcp.Deps{
				Ledger:  a.ledger,
				Tracker: a.tracker,
				Runs:    a.runs,
				Events:  a.audit,
			}, version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
