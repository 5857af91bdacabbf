package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and manage budget accounts",
	}

	cmd.AddCommand(
		newBudgetStatusCmd(configPath),
		newBudgetListCmd(configPath),
		newBudgetCreateCmd(configPath),
		newBudgetSetLimitCmd(configPath),
	)
	return cmd
}

func newBudgetStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <principal>",
		Short: "Show spend vs limit for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			acct, err := a.ledger.Get(ctx, args[0])
			if errors.Is(err, ledger.ErrNotFound) {
				fmt.Printf("No budget account for %s.\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}

			s := models.StatusOf(acct)
			fmt.Printf("Principal:     %s\n", acct.PrincipalID)
			fmt.Printf("Type:          %s\n", acct.AccountType)
			fmt.Printf("Status:        %s\n", acct.Status)
			fmt.Printf("Threshold:     %s\n", acct.ThresholdState)
			fmt.Printf("Limit:         %s\n", s.Limit)
			fmt.Printf("Spent:         %s (%.1f%%)\n", s.Spent, s.Percent)
			fmt.Printf("Remaining:     %s\n", s.Remaining)
			if acct.GraceDeadline != nil {
				fmt.Printf("Grace ends:    %s\n", acct.GraceDeadline.Format(time.RFC3339))
			}
			fmt.Printf("Period start:  %s\n", acct.PeriodStart.Format(time.RFC3339))
			fmt.Printf("Refresh date:  %s (every %d days, %d refreshes)\n",
				acct.RefreshDate.Format(time.RFC3339), acct.RefreshPeriodDays, acct.RefreshCount)
			if len(acct.ModelSpend) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tSPENT")
				for model, spent := range acct.ModelSpend {
					fmt.Fprintf(w, "%s\t%s\n", model, spent)
				}
				return w.Flush()
			}
			return nil
		},
	}
}

func newBudgetListCmd(configPath *string) *cobra.Command {
	var (
		after string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budget accounts ordered by principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			accts, err := a.ledger.List(ctx, after, limit)
			if err != nil {
				return err
			}
			if len(accts) == 0 {
				fmt.Println("No budget accounts found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRINCIPAL\tSTATUS\tTHRESHOLD\tLIMIT\tSPENT\tUSED\tREFRESH")
			for _, acct := range accts {
				s := models.StatusOf(acct)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
					acct.PrincipalID, acct.Status, acct.ThresholdState, s.Limit, s.Spent, s.Percent,
					acct.RefreshDate.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "list principals after this id")
	cmd.Flags().IntVar(&limit, "limit", 100, "max accounts to return")
	return cmd
}

func newBudgetCreateCmd(configPath *string) *cobra.Command {
	var (
		limit       float64
		accountType string
	)

	cmd := &cobra.Command{
		Use:   "create <principal>",
		Short: "Create a budget account with an explicit limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Budget().DefaultLimit
			}
			acct, err := a.ledger.Create(ctx, args[0], models.AccountType(accountType), models.FromDollars(limit))
			if err != nil {
				return err
			}
			fmt.Printf("Created budget for %s: limit %s, refresh %s\n",
				acct.PrincipalID, acct.BudgetLimit, acct.RefreshDate.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().Float64Var(&limit, "limit", 0, "budget limit in USD (defaults to budget.default_limit)")
	cmd.Flags().StringVar(&accountType, "type", string(models.AccountTypeAPIKey), "account type, selects the access controller")
	return cmd
}

func newBudgetSetLimitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-limit <principal> <usd>",
		Short: "Replace a principal's budget limit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dollars, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid limit %q: %w", args[1], err)
			}

			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.ledger.SetLimit(ctx, args[0], models.FromDollars(dollars)); err != nil {
				return err
			}
			fmt.Printf("Limit for %s set to %s\n", args[0], models.FromDollars(dollars))
			return nil
		},
	}
}
