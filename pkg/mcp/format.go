package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/budgeteer/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	keep := (n - 3) / 2
	return s[:keep] + "..." + s[len(s)-keep:]
}

// formatAccount renders one account as a key/value block.
func formatAccount(a models.BudgetAccount) string {
	st := models.StatusOf(a)
	var b strings.Builder
	fmt.Fprintf(&b, "Budget for %s\n", a.PrincipalID)
	fmt.Fprintf(&b, "  Account type: %s\n", a.AccountType)
	fmt.Fprintf(&b, "  Status:       %s (%s)\n", a.Status, a.ThresholdState)
	fmt.Fprintf(&b, "  Limit:        %s\n", a.BudgetLimit)
	fmt.Fprintf(&b, "  Spent:        %s (%.1f%%)\n", a.Spent, st.Percent)
	fmt.Fprintf(&b, "  Remaining:    %s\n", st.Remaining)
	if a.GraceDeadline != nil {
		fmt.Fprintf(&b, "  Grace ends:   %s\n", a.GraceDeadline.Format(timeLayout))
	}
	fmt.Fprintf(&b, "  Refresh date: %s\n", a.RefreshDate.Format(timeLayout))
	if len(a.ModelSpend) > 0 {
		b.WriteString("  Spend by model:\n")
		names := make([]string, 0, len(a.ModelSpend))
		for m := range a.ModelSpend {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			fmt.Fprintf(&b, "    %-45s %s\n", m, a.ModelSpend[m])
		}
	}
	return b.String()
}

// formatAccounts renders accounts as a text table.
func formatAccounts(accts []models.BudgetAccount) string {
	if len(accts) == 0 {
		return "No budgets found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-13s %12s %12s %7s\n", "Principal", "Status", "Limit", "Spent", "Usage%")
	b.WriteString(strings.Repeat("-", 78) + "\n")
	for _, a := range accts {
		fmt.Fprintf(&b, "%-30s %-13s %12s %12s %6.1f%%\n",
			shorten(a.PrincipalID, 30), a.Status, a.BudgetLimit, a.Spent, a.Ratio()*100)
	}
	return b.String()
}

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-35s %8s %10s %10s %12s\n",
		"Principal", "Model", "Requests", "Input", "Output", "Cost")
	b.WriteString(strings.Repeat("-", 104) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %-35s %8d %10d %10d %12s\n",
			shorten(r.Principal, 24), shorten(r.Model, 35), r.RequestCount, r.InputTokens, r.OutputTokens, r.Cost)
	}
	return b.String()
}

// formatRuns formats workflow runs as a text table.
func formatRuns(runs []models.WorkflowRun) string {
	if len(runs) == 0 {
		return "No workflow runs found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-12s %-24s %-10s %-22s %-20s\n",
		"Run ID", "Kind", "Principal", "State", "Step", "Wake At")
	b.WriteString(strings.Repeat("-", 129) + "\n")
	for _, r := range runs {
		wake := "-"
		if r.WakeAt != nil {
			wake = r.WakeAt.Format(timeLayout)
		}
		fmt.Fprintf(&b, "%-36s %-12s %-24s %-10s %-22s %-20s\n",
			r.ID, r.Kind, shorten(r.Principal, 24), r.State, r.Step, wake)
		if r.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", r.Error)
		}
	}
	return b.String()
}

// formatEvents formats budget events as a text table.
func formatEvents(evs []models.Event) string {
	if len(evs) == 0 {
		return "No budget events found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %-24s %12s %12s\n", "Time", "Type", "Principal", "Spent", "Limit")
	b.WriteString(strings.Repeat("-", 96) + "\n")
	for _, e := range evs {
		fmt.Fprintf(&b, "%-20s %-24s %-24s %12s %12s\n",
			e.CreatedAt.Format(timeLayout), e.Type, shorten(e.Principal, 24), e.Spent, e.Limit)
	}
	return b.String()
}
