package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "budgeteer",
		Short:         "Spend budgets and access enforcement for model invocations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults are used when empty)")

	root.AddCommand(
		newRunCmd(&configPath),
		newIngestCmd(&configPath),
		newBudgetCmd(&configPath),
		newPricingCmd(&configPath),
		newSweepCmd(&configPath),
		newWorkflowCmd(&configPath),
		newAuditCmd(&configPath),
		newUsageCmd(&configPath),
		newMCPCmd(&configPath),
	)
	return root
}
