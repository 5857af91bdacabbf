package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

type principalArgs struct {
	Principal string `json:"principal_id"`
}

type listArgs struct {
	After string `json:"after"`
	Limit int    `json:"limit"`
}

type workflowArgs struct {
	Principal string `json:"principal_id"`
	State     string `json:"state"`
}

type eventArgs struct {
	Principal string `json:"principal_id"`
	Type      string `json:"type"`
	Since     string `json:"since"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"budget_status": handleBudgetStatus,
	"budget_list":   handleBudgetList,
	"usage_stats":   handleUsageStats,
	"workflow_runs": handleWorkflowRuns,
	"budget_events": handleBudgetEvents,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var allTools = []ToolDefinition{
	{
		Name:        "budget_status",
		Description: "Show a principal's budget: limit, spend, remaining, status and refresh date.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"principal_id"},
			"properties": map[string]any{
				"principal_id": stringProp("The principal to inspect"),
			},
		},
	},
	{
		Name:        "budget_list",
		Description: "List budget accounts in principal order.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"after": stringProp("Return principals after this id (optional)"),
				"limit": map[string]any{"type": "integer", "description": "Maximum rows (default 50)"},
			},
		},
	},
	{
		Name:        "usage_stats",
		Description: "Show usage aggregated by principal and model, optionally for one principal.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"principal_id": stringProp("Filter by principal (optional)"),
			},
		},
	},
	{
		Name:        "workflow_runs",
		Description: "List suspension and restoration workflow runs.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"principal_id": stringProp("Filter by principal (optional)"),
				"state":        stringProp("Filter by state: pending, waiting, succeeded or failed (optional)"),
			},
		},
	},
	{
		Name:        "budget_events",
		Description: "Search the budget event log.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"principal_id": stringProp("Filter by principal (optional)"),
				"type":         stringProp("Filter by event type, e.g. grace_started (optional)"),
				"since":        stringProp("Start date in YYYY-MM-DD format (optional)"),
			},
		},
	},
}

func decodeArgs(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}

func handleBudgetStatus(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Ledger == nil {
		return textResult("Budget ledger is not configured.")
	}
	var args principalArgs
	decodeArgs(raw, &args)
	if args.Principal == "" {
		return errorResult("principal_id is required")
	}
	acct, err := s.deps.Ledger.Get(ctx, args.Principal)
	if errors.Is(err, ledger.ErrNotFound) {
		return textResult("No budget found for " + args.Principal + ".")
	}
	if err != nil {
		return errorResult("Error fetching budget: " + err.Error())
	}
	return textResult(formatAccount(acct))
}

func handleBudgetList(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Ledger == nil {
		return textResult("Budget ledger is not configured.")
	}
	var args listArgs
	decodeArgs(raw, &args)
	if args.Limit <= 0 {
		args.Limit = 50
	}
	accts, err := s.deps.Ledger.List(ctx, args.After, args.Limit)
	if err != nil {
		return errorResult("Error listing budgets: " + err.Error())
	}
	return textResult(formatAccounts(accts))
}

func handleUsageStats(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Tracker == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args principalArgs
	decodeArgs(raw, &args)
	rows, err := s.deps.Tracker.Summary(ctx, args.Principal)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleWorkflowRuns(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Runs == nil {
		return textResult("Workflow runner is not configured.")
	}
	var args workflowArgs
	decodeArgs(raw, &args)
	runs, err := s.deps.Runs.List(ctx, workflow.Filter{
		Principal: args.Principal,
		State:     models.RunState(args.State),
		Limit:     50,
	})
	if err != nil {
		return errorResult("Error listing workflow runs: " + err.Error())
	}
	return textResult(formatRuns(runs))
}

func handleBudgetEvents(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Events == nil {
		return textResult("Budget event log is not configured.")
	}
	var args eventArgs
	decodeArgs(raw, &args)
	opts := models.EventQueryOpts{
		Principal: args.Principal,
		Type:      models.EventType(args.Type),
		Limit:     50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}
	evs, err := s.deps.Events.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching events: " + err.Error())
	}
	return textResult(formatEvents(evs))
}
