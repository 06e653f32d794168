// Package context implements the bounded context window for reagent: an
// ordered transcript with incremental token accounting, threshold-triggered
// compaction, and full state serialization. One Manager owns one transcript;
// appends are strictly sequential, matching the reason/act/observe loop.
package context

import (
	"fmt"
	"time"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	// RoleSystemNote marks synthetic messages injected by compaction.
	RoleSystemNote Role = "system-note"

	// RoleObservation marks subagent summaries merged into a parent context.
	RoleObservation Role = "observation"
)

// MessageUsage carries provider-reported token usage attached to a message.
// When present, AddMessage records it on the owning ledger.
type MessageUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Message is one transcript entry. Messages are immutable once appended;
// TokenCount is computed at insertion and includes the per-message framing
// overhead, so the running context total is the plain sum of message counts.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	TokenCount int           `json:"token_count"`
	Timestamp  time.Time     `json:"timestamp"`
	Usage      *MessageUsage `json:"usage,omitempty"`

	// Degraded reports that the token count came from the byte-length
	// fallback rather than the normal estimator.
	Degraded bool `json:"degraded,omitempty"`
}

// CompactionConfig controls which messages survive a compaction pass.
// Immutable per Manager; the owner may swap it between passes, never during
// one.
type CompactionConfig struct {
	KeepFirstN         int  `json:"keep_first_n" yaml:"keep_first_n"`
	KeepLastN          int  `json:"keep_last_n" yaml:"keep_last_n"`
	SummarizeMiddle    bool `json:"summarize_middle" yaml:"summarize_middle"`
	SummaryTokenBudget int  `json:"summary_token_budget" yaml:"summary_token_budget"`
}

// DefaultCompactionConfig mirrors the defaults of the top-level agent:
// system prompt plus initial context up front, a healthy recent tail, and a
// summarized middle.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		KeepFirstN:         2,
		KeepLastN:          10,
		SummarizeMiddle:    true,
		SummaryTokenBudget: 500,
	}
}

// CompactionReport describes the outcome of one compaction pass.
type CompactionReport struct {
	TokensBefore    int `json:"tokens_before"`
	TokensAfter     int `json:"tokens_after"`
	MessagesRemoved int `json:"messages_removed"`
}

// State is the externally observable state of a Manager.
type State struct {
	MessageCount    int  `json:"message_count"`
	TotalTokens     int  `json:"total_tokens"`
	CompactionCount int  `json:"compaction_count"`
	NearLimit       bool `json:"near_limit"`
}

// OverflowError reports that a compaction pass could not bring the context
// under its configured budget. This is a configuration error (the kept head
// and tail alone exceed max tokens), not a recoverable runtime condition.
type OverflowError struct {
	OwnerID     string
	TotalTokens int
	MaxTokens   int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("context %s over budget after compaction: %d tokens > max %d (keep_first_n/keep_last_n exceed the window)",
		e.OwnerID, e.TotalTokens, e.MaxTokens)
}

// SummaryGrowthError reports a summarization result that failed to shrink the
// content it replaces. It is surfaced rather than silently accepted.
type SummaryGrowthError struct {
	SummaryTokens int
	MiddleTokens  int
}

func (e *SummaryGrowthError) Error() string {
	return fmt.Sprintf("summary did not shrink content: %d tokens >= %d middle tokens", e.SummaryTokens, e.MiddleTokens)
}

// ImportStateError reports malformed or incompatible persisted state, naming
// the offending field so the caller can decide between retry and abort.
type ImportStateError struct {
	Field  string
	Reason string
}

func (e *ImportStateError) Error() string {
	return fmt.Sprintf("import state: field %q: %s", e.Field, e.Reason)
}
