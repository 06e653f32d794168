package agent

import (
	"fmt"
	"strings"
)

// UsageSummary renders a human-readable token usage report covering the
// agent and its subagents.
func (a *Agent) UsageSummary() string {
	own := a.ledger.Total()
	rollup := a.ledger.Rollup()
	maxTokens := a.context.MaxTokens()
	state := a.context.State()

	var sb strings.Builder
	sb.WriteString("Token Usage Summary\n")
	sb.WriteString("==================\n")
	fmt.Fprintf(&sb, "Total Prompt Tokens:     %d\n", own.PromptTokens)
	fmt.Fprintf(&sb, "Total Completion Tokens: %d\n", own.CompletionTokens)
	fmt.Fprintf(&sb, "Total Tokens Used:       %d\n", own.TotalTokens)
	fmt.Fprintf(&sb, "Total Interactions:      %d\n", own.Records)
	fmt.Fprintf(&sb, "Context Window:          %d / %d (%.2f%%)\n",
		state.TotalTokens, maxTokens, percent(state.TotalTokens, maxTokens))

	subs := a.spawner.List()
	if len(subs) > 0 {
		sb.WriteString("\nSubagents\n")
		sb.WriteString("---------\n")
		for _, sub := range subs {
			t := sub.Ledger().Total()
			fmt.Fprintf(&sb, "%-20s %s  %d tokens (%d interactions)\n",
				sub.Name(), sub.Status(), t.TotalTokens, t.Records)
		}
		fmt.Fprintf(&sb, "\nCombined Total:          %d tokens\n", rollup.TotalTokens)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ContextStateSummary renders a human-readable view of the context window.
func (a *Agent) ContextStateSummary() string {
	state := a.context.State()
	maxTokens := a.context.MaxTokens()

	var sb strings.Builder
	sb.WriteString("Context Window State\n")
	sb.WriteString("===================\n")
	fmt.Fprintf(&sb, "Current Messages:        %d\n", state.MessageCount)
	fmt.Fprintf(&sb, "Current Tokens:          %d / %d\n", state.TotalTokens, maxTokens)
	fmt.Fprintf(&sb, "Usage Percentage:        %.2f%%\n", percent(state.TotalTokens, maxTokens))
	fmt.Fprintf(&sb, "Compactions Performed:   %d\n", state.CompactionCount)
	fmt.Fprintf(&sb, "Near Limit:              %v", state.NearLimit)
	return sb.String()
}

func percent(n, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(n) / float64(max) * 100
}
