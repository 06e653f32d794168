package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	actx "reagent/internal/context"
	"reagent/internal/logging"
	"reagent/internal/usage"
)

// Status is the lifecycle state of a subagent.
type Status int32

const (
	StatusCreated Status = iota
	StatusRunning
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String, used when restoring
// persisted state.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "created":
		return StatusCreated, nil
	case "running":
		// A persisted run cannot still be in flight.
		return StatusCreated, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusCreated, fmt.Errorf("unknown subagent status %q", s)
	}
}

// Summary is the condensed result of one subagent run. Produced once per
// run and returned idempotently thereafter. Partial marks a summary built
// from the transcript of a cancelled or failed run.
type Summary struct {
	SubagentID string `json:"subagent_id"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Partial    bool   `json:"partial"`
}

// DefaultMaxTurns bounds the reason/act/observe loop of one run.
const DefaultMaxTurns = 25

// Subagent is an isolated delegate: its own context window and ledger,
// zero shared mutable state with the parent. The only coupling back to the
// parent is the one-shot summary injected on completion.
type Subagent struct {
	mu sync.Mutex

	id           string
	parentID     string
	name         string
	systemPrompt string

	context *actx.Manager
	ledger  *usage.Ledger

	engine     ReasoningEngine
	executor   ToolExecutor
	summarizer actx.Summarizer

	maxTurns      int
	summaryBudget int

	status  atomic.Int32
	summary *Summary
}

// ID returns the subagent's unique id.
func (s *Subagent) ID() string { return s.id }

// ParentID returns the id of the creating agent (back-reference only).
func (s *Subagent) ParentID() string { return s.parentID }

// Name returns the human-readable subagent name.
func (s *Subagent) Name() string { return s.name }

// SystemPrompt returns the prompt the subagent's context is seeded with.
func (s *Subagent) SystemPrompt() string { return s.systemPrompt }

// Status returns the current lifecycle state.
func (s *Subagent) Status() Status {
	return Status(s.status.Load())
}

// Context exposes the subagent's own context manager.
func (s *Subagent) Context() *actx.Manager { return s.context }

// Ledger exposes the subagent's own usage ledger.
func (s *Subagent) Ledger() *usage.Ledger { return s.ledger }

// CachedSummary returns the already-produced summary, or nil. Unlike
// Summary it never triggers summarization, so exports stay side-effect
// free.
func (s *Subagent) CachedSummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return nil
	}
	cp := *s.summary
	return &cp
}

// Run executes one task through the reason/act/observe loop, bounded by the
// subagent's own context window, and returns the cached summary. The run is
// synchronous; concurrency across distinct subagents is the caller's choice
// (see Spawner.RunAll).
//
// Cancellation via ctx leaves the partial transcript intact, moves the
// subagent to Cancelled, and makes Summary return a partial summary. A
// reasoning or context failure is handled the same way.
func (s *Subagent) Run(ctx context.Context, task string) (Summary, error) {
	if !s.status.CompareAndSwap(int32(StatusCreated), int32(StatusRunning)) {
		return Summary{}, fmt.Errorf("subagent %s: run from status %s (reset first)", s.id, s.Status())
	}

	logging.Session("subagent %s (%s) starting task: %s", s.name, s.id, truncate(task, 100))

	if _, err := s.context.AddMessage(ctx, actx.Message{Role: actx.RoleUser, Content: task}); err != nil {
		return s.abort(err)
	}

	if _, err := RunLoop(ctx, s.context, s.engine, s.executor, s.maxTurns); err != nil {
		return s.abort(err)
	}

	s.status.Store(int32(StatusCompleted))
	logging.Session("subagent %s completed", s.id)
	return s.Summary()
}

// abort transitions a failed or cancelled run to Cancelled, keeping the
// partial transcript for later summarization.
func (s *Subagent) abort(cause error) (Summary, error) {
	s.status.Store(int32(StatusCancelled))
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		logging.Session("subagent %s cancelled: %v", s.id, cause)
	} else {
		logging.Get(logging.CategorySession).Errorf("subagent %s failed: %v", s.id, cause)
	}
	return Summary{}, cause
}

// Summary returns the run's condensed result. Idempotent: the summarizer is
// invoked exactly once per run and the result cached. While still Created
// or Running it fails with NotReadyError; after cancellation it builds a
// partial summary from whatever transcript exists rather than blocking.
func (s *Subagent) Summary() (Summary, error) {
	switch s.Status() {
	case StatusCreated, StatusRunning:
		return Summary{}, &NotReadyError{SubagentID: s.id, Status: s.Status()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary != nil {
		return *s.summary, nil
	}

	partial := s.Status() == StatusCancelled
	text, err := s.summarizer.Summarize(context.Background(), s.context.Messages(), s.summaryBudget)
	if err != nil {
		if !partial {
			return Summary{}, fmt.Errorf("summarize subagent %s: %w", s.id, err)
		}
		// A cancelled run still yields a summary: fall back to the raw
		// transcript tail rather than failing the parent.
		text = tailText(s.context.Messages(), s.summaryBudget)
	}

	count, _ := s.context.Counter().CountText(text)
	s.summary = &Summary{
		SubagentID: s.id,
		Text:       text,
		TokenCount: count,
		Partial:    partial,
	}
	return *s.summary, nil
}

// Reset returns the subagent to its initial state: the context holds only
// the system prompt, live counters are zeroed, status is Created. Recorded
// usage history is append-only and survives.
func (s *Subagent) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.context.Clear()
	if s.systemPrompt != "" {
		if _, err := s.context.AddMessage(context.Background(), actx.Message{
			Role:    actx.RoleSystem,
			Content: s.systemPrompt,
		}); err != nil {
			return err
		}
	}
	s.ledger.ResetLive()
	s.summary = nil
	s.status.Store(int32(StatusCreated))
	logging.Session("subagent %s reset", s.id)
	return nil
}

func tailText(msgs []actx.Message, budgetTokens int) string {
	maxChars := budgetTokens * 4
	var text string
	for i := len(msgs) - 1; i >= 0; i-- {
		candidate := msgs[i].Content
		if text != "" {
			candidate = candidate + "\n" + text
		}
		if budgetTokens > 0 && len(candidate) > maxChars {
			break
		}
		text = candidate
	}
	if text == "" && len(msgs) > 0 {
		last := msgs[len(msgs)-1].Content
		if budgetTokens > 0 && len(last) > maxChars {
			last = last[:maxChars]
		}
		text = last
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
