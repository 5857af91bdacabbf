package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

func newWorkflowCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect suspension and restoration runs",
	}

	cmd.AddCommand(
		newWorkflowListCmd(configPath),
		newWorkflowShowCmd(configPath),
	)
	return cmd
}

func openRuns(configPath string) (*workflow.Store, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	return workflow.NewStore(cfg.DBPath)
}

func newWorkflowListCmd(configPath *string) *cobra.Command {
	var f workflow.Filter
	var kind, state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := openRuns(*configPath)
			if err != nil {
				return err
			}
			defer runs.Close()

			f.Kind = models.WorkflowKind(kind)
			f.State = models.RunState(state)
			list, err := runs.List(context.Background(), f)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No workflow runs found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPRINCIPAL\tSTATE\tSTEP\tWAKE AT\tUPDATED")
			for _, r := range list {
				wake := "-"
				if r.WakeAt != nil {
					wake = r.WakeAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Kind, r.Principal, r.State, r.Step, wake, r.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&f.Principal, "principal", "", "filter by principal")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind: suspension or restoration")
	cmd.Flags().StringVar(&state, "state", "", "filter by state: pending, waiting, succeeded or failed")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max runs to return")
	return cmd
}

func newWorkflowShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := openRuns(*configPath)
			if err != nil {
				return err
			}
			defer runs.Close()

			r, err := runs.Get(context.Background(), args[0])
			if errors.Is(err, workflow.ErrRunNotFound) {
				fmt.Println("No run found with that id.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("ID:         %s\n", r.ID)
			fmt.Printf("Kind:       %s\n", r.Kind)
			fmt.Printf("Principal:  %s\n", r.Principal)
			fmt.Printf("State:      %s\n", r.State)
			fmt.Printf("Step:       %s\n", r.Step)
			if r.WakeAt != nil {
				fmt.Printf("Wake at:    %s\n", r.WakeAt.Format(time.RFC3339))
			}
			if r.Error != "" {
				fmt.Printf("Error:      %s\n", r.Error)
			}
			fmt.Printf("Created:    %s\n", r.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:    %s\n", r.UpdatedAt.Format(time.RFC3339))
			if len(r.Payload) > 0 {
				fmt.Printf("\n--- Payload ---\n%s\n", r.Payload)
			}
			return nil
		},
	}
}
