package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/cost"
	"github.com/pario-ai/budgeteer/pkg/models"
)

func newPricingCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Manage the model pricing table",
	}

	cmd.AddCommand(
		newPricingRefreshCmd(configPath),
		newPricingShowCmd(configPath),
		newPricingEstimateCmd(configPath),
	)
	return cmd
}

func newPricingRefreshCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rewrite the pricing table from the configured price sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.refreshPricing(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d pricing rows.\n", n)
			return nil
		},
	}
}

func newPricingShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the persisted pricing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.prices.List(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Pricing table is empty; run 'budgeteer pricing refresh'.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tREGION\tINPUT/1K\tOUTPUT/1K\tSOURCE\tEXPIRES")
			for _, e := range entries {
				expires := e.ExpiresAt.Format(time.RFC3339)
				if !e.ExpiresAt.After(now) {
					expires += " (expired)"
				}
				fmt.Fprintf(w, "%s\t%s\t$%.6f\t$%.6f\t%s\t%s\n",
					e.Model, e.Region, e.InputRate, e.OutputRate, e.Source, expires)
			}
			return w.Flush()
		},
	}
}

func newPricingEstimateCmd(configPath *string) *cobra.Command {
	var (
		model  string
		region string
		tokens models.TokenCounts
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price a hypothetical invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				return fmt.Errorf("--model is required")
			}

			ctx := context.Background()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rates, source := a.rates.Rates(ctx, model, region)
			fmt.Printf("Model:   %s\n", model)
			fmt.Printf("Rates:   $%.6f input / $%.6f output per 1K tokens (%s)\n", rates.InputRate, rates.OutputRate, source)
			fmt.Printf("Tokens:  %d in, %d out, %d cache write, %d cache read\n",
				tokens.Input, tokens.Output, tokens.CacheWrite, tokens.CacheRead)
			fmt.Printf("Cost:    %s\n", cost.Compute(rates, tokens))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model id")
	cmd.Flags().StringVar(&region, "region", "", "region (defaults to pricing.default_region)")
	cmd.Flags().Int64Var(&tokens.Input, "input", 0, "input tokens")
	cmd.Flags().Int64Var(&tokens.Output, "output", 0, "output tokens")
	cmd.Flags().Int64Var(&tokens.CacheWrite, "cache-write", 0, "cache write tokens")
	cmd.Flags().Int64Var(&tokens.CacheRead, "cache-read", 0, "cache read tokens")
	return cmd
}
