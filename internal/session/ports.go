// Package session implements the subagent lifecycle: isolated delegate
// agents with their own context window and usage ledger, folded back into a
// parent as a compact summary.
package session

import (
	"context"
	"fmt"

	actx "reagent/internal/context"
)

// ToolInfo describes one invocable tool to the reasoning engine.
type ToolInfo struct {
	Name        string
	Description string
}

// Step is one reasoning engine decision: either an action to take or a
// final answer. FinalAnswer terminates the loop when Action is empty.
type Step struct {
	Thought     string
	Action      string
	ActionInput string
	FinalAnswer string

	// Usage carries provider-reported token usage for this step, recorded
	// on the owning ledger through the context manager.
	Usage *actx.MessageUsage
}

// ReasoningEngine decides the next step from a transcript snapshot. The
// core never blocks anywhere else; cancellation is honored at this boundary.
type ReasoningEngine interface {
	Step(ctx context.Context, snapshot []actx.Message, tools []ToolInfo) (Step, error)
}

// ToolExecutor runs one named action and returns its observation text.
type ToolExecutor interface {
	Invoke(ctx context.Context, action, input string) (string, error)
	Tools() []ToolInfo
}

// NotReadyError reports a summary request before the subagent run finished.
// Retryable: ask again after completion.
type NotReadyError struct {
	SubagentID string
	Status     Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("subagent %s: summary not ready (status %s)", e.SubagentID, e.Status)
}
