// Package usage implements the append-only token usage ledger with
// hierarchical rollup across a parent agent and its subagents.
package usage

import (
	"fmt"
	"time"
)

// Record is one usage event. Records are append-only: never edited or
// deleted, and they survive a reset of the owning agent.
type Record struct {
	ContextID        string    `json:"context_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Timestamp        time.Time `json:"timestamp"`
}

// Totals holds aggregate token sums.
type Totals struct {
	PromptTokens     int64 `json:"total_prompt_tokens"`
	CompletionTokens int64 `json:"total_completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	Records          int64 `json:"record_count"`
}

// Add accumulates one event into the totals.
func (t *Totals) Add(prompt, completion int) {
	t.PromptTokens += int64(prompt)
	t.CompletionTokens += int64(completion)
	t.TotalTokens += int64(prompt + completion)
	t.Records++
}

func (t *Totals) merge(other Totals) {
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.TotalTokens += other.TotalTokens
	t.Records += other.Records
}

// ConcurrentWriteError reports a write-discipline violation on the ledger:
// an append after the ledger was sealed. Structurally impossible through the
// normal write path, but surfaced rather than dropping the event.
type ConcurrentWriteError struct {
	OwnerID string
}

func (e *ConcurrentWriteError) Error() string {
	return fmt.Sprintf("ledger %s: append after seal", e.OwnerID)
}
