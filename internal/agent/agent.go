// Package agent wires the context manager, usage ledger, subagent spawner,
// and reasoning loop into one top-level facade.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	actx "reagent/internal/context"
	"reagent/internal/logging"
	"reagent/internal/session"
	"reagent/internal/tokens"
	"reagent/internal/usage"
)

// Options configures a new agent. Engine and Executor are required; the
// rest default to sensible values.
type Options struct {
	ID           string
	SystemPrompt string
	Window       actx.Config

	Counter    *tokens.Counter
	Engine     session.ReasoningEngine
	Executor   session.ToolExecutor
	Summarizer actx.Summarizer

	// Store, when set, persists every usage event durably.
	Store *usage.Store

	MaxTurns      int
	SubagentLimit int
}

// Agent is the top-level session: one context window, one ledger, and a
// spawner for delegated subagents. Run may be called repeatedly; the
// conversation accumulates in the context between calls.
type Agent struct {
	mu sync.Mutex

	id           string
	createdAt    time.Time
	systemPrompt string

	context *actx.Manager
	ledger  *usage.Ledger
	spawner *session.Spawner

	counter    *tokens.Counter
	engine     session.ReasoningEngine
	executor   session.ToolExecutor
	summarizer actx.Summarizer
	store      *usage.Store
	maxTurns   int
}

// New creates an agent with its context seeded from the system prompt.
func New(opts Options) (*Agent, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("reasoning engine is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if opts.Counter == nil {
		opts.Counter = tokens.NewCounter()
	}
	if opts.Summarizer == nil {
		opts.Summarizer = actx.ExtractiveSummarizer{}
	}
	if opts.Window.MaxTokens == 0 {
		opts.Window = actx.DefaultConfig()
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = session.DefaultMaxTurns
	}

	a := &Agent{
		id:           id,
		createdAt:    time.Now().UTC(),
		systemPrompt: opts.SystemPrompt,
		counter:      opts.Counter,
		engine:       opts.Engine,
		executor:     opts.Executor,
		summarizer:   opts.Summarizer,
		store:        opts.Store,
		maxTurns:     opts.MaxTurns,
	}
	a.context = actx.NewManager(id, opts.Window, opts.Counter, opts.Summarizer)
	a.ledger = usage.NewLedger(id)
	if opts.Store != nil {
		a.ledger.WithStore(opts.Store)
	}
	a.context.AttachLedger(a.ledger)
	a.ledger.RegisterLimit(id, a.context)

	a.spawner = session.NewSpawner(session.SpawnerOptions{
		ParentID:     id,
		ParentLedger: a.ledger,
		Counter:      opts.Counter,
		Engine:       opts.Engine,
		Executor:     opts.Executor,
		Summarizer:   opts.Summarizer,
		Window:       opts.Window,
		MaxActive:    opts.SubagentLimit,
	})

	if opts.SystemPrompt != "" {
		if _, err := a.context.AddMessage(context.Background(), actx.Message{
			Role:    actx.RoleSystem,
			Content: opts.SystemPrompt,
		}); err != nil {
			return nil, fmt.Errorf("seeding agent context: %w", err)
		}
	}

	logging.Session("agent %s created, window %d tokens", id, a.context.MaxTokens())
	return a, nil
}

// ID returns the agent's unique id.
func (a *Agent) ID() string { return a.id }

// CreatedAt returns the agent's creation time.
func (a *Agent) CreatedAt() time.Time { return a.createdAt }

// Context exposes the agent's context manager.
func (a *Agent) Context() *actx.Manager { return a.context }

// Ledger exposes the agent's usage ledger.
func (a *Agent) Ledger() *usage.Ledger { return a.ledger }

// Spawner exposes the subagent spawner.
func (a *Agent) Spawner() *session.Spawner { return a.spawner }

// Run drives the reasoning loop for one task and returns the final
// answer. Context accumulates across calls; near-limit compaction happens
// automatically inside the context manager.
func (a *Agent) Run(ctx context.Context, task string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.context.AddMessage(ctx, actx.Message{Role: actx.RoleUser, Content: task}); err != nil {
		return "", err
	}
	answer, err := session.RunLoop(ctx, a.context, a.engine, a.executor, a.maxTurns)
	if err != nil {
		return "", err
	}
	return answer, nil
}

// CreateSubagent spawns a named subagent with its own context window.
// maxTokens <= 0 inherits the agent's window size.
func (a *Agent) CreateSubagent(name, systemPrompt string, maxTokens int) (*session.Subagent, error) {
	return a.spawner.Create(name, systemPrompt, maxTokens)
}

// Subagent returns the named subagent, or nil.
func (a *Agent) Subagent(name string) *session.Subagent {
	return a.spawner.Get(name)
}

// MergeSummary injects the named subagent's summary into the agent's own
// context as an observation message. The subagent's transcript never
// crosses over; only the summary does. Partial summaries are marked.
func (a *Agent) MergeSummary(ctx context.Context, name string) error {
	sub := a.spawner.Get(name)
	if sub == nil {
		return fmt.Errorf("unknown subagent %q", name)
	}
	summary, err := sub.Summary()
	if err != nil {
		return err
	}

	label := fmt.Sprintf("Result from subagent %q", name)
	if summary.Partial {
		label += " (partial, run was cancelled)"
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.context.AddMessage(ctx, actx.Message{
		Role:    actx.RoleObservation,
		Content: fmt.Sprintf("%s:\n%s", label, summary.Text),
	})
	return err
}

// Reset clears the agent's context back to the system prompt and zeroes
// the live usage counters. Recorded history and subagents are untouched.
func (a *Agent) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.context.Clear()
	if a.systemPrompt != "" {
		if _, err := a.context.AddMessage(context.Background(), actx.Message{
			Role:    actx.RoleSystem,
			Content: a.systemPrompt,
		}); err != nil {
			return err
		}
	}
	a.ledger.ResetLive()
	logging.Session("agent %s reset", a.id)
	return nil
}

// NearLimit reports whether the agent's context has crossed its
// compaction threshold.
func (a *Agent) NearLimit() bool {
	return a.context.NearLimit()
}
