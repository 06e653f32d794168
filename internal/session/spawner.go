package session

// =============================================================================
// SUBAGENT SPAWNER
// =============================================================================
// The Spawner owns the lifecycle of named subagents under a single parent
// session. Each subagent gets its own context window and usage ledger; the
// ledger is registered as a child of the parent's so hierarchical rollups
// see delegated work.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	actx "reagent/internal/context"
	"reagent/internal/logging"
	"reagent/internal/tokens"
	"reagent/internal/usage"
)

// Preset is a declarative subagent definition loaded from
// .reagent/agents/<name>.yaml.
type Preset struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// Spawner creates and tracks subagents for one parent session. Subagent
// names are unique per spawner; ids are generated.
type Spawner struct {
	mu sync.Mutex

	parentID     string
	parentLedger *usage.Ledger
	counter      *tokens.Counter
	engine       ReasoningEngine
	executor     ToolExecutor
	summarizer   actx.Summarizer

	window    actx.Config
	maxActive int

	subagents map[string]*Subagent
}

// SpawnerOptions carries the shared collaborators every spawned subagent
// inherits from its parent session.
type SpawnerOptions struct {
	ParentID     string
	ParentLedger *usage.Ledger
	Counter      *tokens.Counter
	Engine       ReasoningEngine
	Executor     ToolExecutor
	Summarizer   actx.Summarizer

	// Window is the default context configuration for new subagents.
	// Create may override MaxTokens per subagent.
	Window actx.Config

	// MaxActive caps how many subagents may exist at once. Zero means
	// no cap.
	MaxActive int
}

// NewSpawner builds a spawner. The summarizer falls back to the extractive
// one when nil so cancelled subagents can always produce partial summaries.
func NewSpawner(opts SpawnerOptions) *Spawner {
	if opts.Summarizer == nil {
		opts.Summarizer = actx.ExtractiveSummarizer{}
	}
	if opts.Counter == nil {
		opts.Counter = tokens.NewCounter()
	}
	if opts.Window.MaxTokens == 0 {
		opts.Window = actx.DefaultConfig()
	}
	return &Spawner{
		parentID:     opts.ParentID,
		parentLedger: opts.ParentLedger,
		counter:      opts.Counter,
		engine:       opts.Engine,
		executor:     opts.Executor,
		summarizer:   opts.Summarizer,
		window:       opts.Window,
		maxActive:    opts.MaxActive,
		subagents:    make(map[string]*Subagent),
	}
}

// Create spawns a subagent with its own context window seeded with the
// system prompt. maxTokens <= 0 uses the spawner's default window size.
func (sp *Spawner) Create(name, systemPrompt string, maxTokens int) (*Subagent, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("subagent name is required")
	}
	if _, exists := sp.subagents[name]; exists {
		return nil, fmt.Errorf("subagent %q already exists", name)
	}
	if sp.maxActive > 0 && len(sp.subagents) >= sp.maxActive {
		return nil, fmt.Errorf("subagent limit reached (%d active)", sp.maxActive)
	}

	cfg := sp.window
	if maxTokens > 0 {
		cfg.MaxTokens = maxTokens
	}

	id := uuid.NewString()
	mgr := actx.NewManager(id, cfg, sp.counter, sp.summarizer)
	ledger := usage.NewLedger(id)
	mgr.AttachLedger(ledger)

	sub := &Subagent{
		id:            id,
		parentID:      sp.parentID,
		name:          name,
		systemPrompt:  systemPrompt,
		context:       mgr,
		ledger:        ledger,
		engine:        sp.engine,
		executor:      sp.executor,
		summarizer:    sp.summarizer,
		maxTurns:      DefaultMaxTurns,
		summaryBudget: cfg.Compaction.SummaryTokenBudget,
	}
	sub.status.Store(int32(StatusCreated))

	if systemPrompt != "" {
		if _, err := mgr.AddMessage(context.Background(), actx.Message{
			Role:    actx.RoleSystem,
			Content: systemPrompt,
		}); err != nil {
			return nil, fmt.Errorf("seeding subagent %q: %w", name, err)
		}
	}

	if sp.parentLedger != nil {
		sp.parentLedger.RegisterChild(ledger)
		sp.parentLedger.RegisterLimit(id, mgr)
	}

	sp.subagents[name] = sub
	logging.Session("spawned subagent %s (%s), window %d tokens", name, id, cfg.MaxTokens)
	return sub, nil
}

// RestoreState carries a persisted subagent's identity and lifecycle for
// reconstruction alongside its context snapshot.
type RestoreState struct {
	ID           string
	Name         string
	SystemPrompt string
	Status       Status
	Summary      *Summary
	History      []usage.Record
}

// Restore reconstructs a subagent from persisted state: same id, restored
// transcript, restored status and cached summary. A subagent persisted
// mid-run comes back as Created.
func (sp *Spawner) Restore(st RestoreState, snapshot actx.Snapshot) (*Subagent, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if st.ID == "" || st.Name == "" {
		return nil, fmt.Errorf("restore requires id and name")
	}
	if _, exists := sp.subagents[st.Name]; exists {
		return nil, fmt.Errorf("subagent %q already exists", st.Name)
	}

	cfg := sp.window
	if snapshot.MaxTokens > 0 {
		cfg.MaxTokens = snapshot.MaxTokens
	}

	mgr := actx.NewManager(st.ID, cfg, sp.counter, sp.summarizer)
	if err := mgr.Import(snapshot); err != nil {
		return nil, err
	}
	ledger := usage.NewLedger(st.ID)
	ledger.Restore(st.History)
	mgr.AttachLedger(ledger)

	sub := &Subagent{
		id:            st.ID,
		parentID:      sp.parentID,
		name:          st.Name,
		systemPrompt:  st.SystemPrompt,
		context:       mgr,
		ledger:        ledger,
		engine:        sp.engine,
		executor:      sp.executor,
		summarizer:    sp.summarizer,
		maxTurns:      DefaultMaxTurns,
		summaryBudget: cfg.Compaction.SummaryTokenBudget,
		summary:       st.Summary,
	}
	sub.status.Store(int32(st.Status))

	if sp.parentLedger != nil {
		sp.parentLedger.RegisterChild(ledger)
		sp.parentLedger.RegisterLimit(st.ID, mgr)
	}

	sp.subagents[st.Name] = sub
	return sub, nil
}

// Get returns the subagent registered under name, or nil.
func (sp *Spawner) Get(name string) *Subagent {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.subagents[name]
}

// List returns all subagents sorted by name.
func (sp *Spawner) List() []*Subagent {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	names := make([]string, 0, len(sp.subagents))
	for n := range sp.subagents {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Subagent, 0, len(names))
	for _, n := range names {
		out = append(out, sp.subagents[n])
	}
	return out
}

// RunAll dispatches one task per named subagent concurrently and collects
// the summaries. Unknown names fail the whole batch before anything runs.
func (sp *Spawner) RunAll(ctx context.Context, tasks map[string]string) (map[string]Summary, error) {
	subs := make(map[string]*Subagent, len(tasks))
	sp.mu.Lock()
	for name := range tasks {
		sub, ok := sp.subagents[name]
		if !ok {
			sp.mu.Unlock()
			return nil, fmt.Errorf("unknown subagent %q", name)
		}
		subs[name] = sub
	}
	sp.mu.Unlock()

	var resMu sync.Mutex
	results := make(map[string]Summary, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for name, sub := range subs {
		task := tasks[name]
		g.Go(func() error {
			summary, err := sub.Run(gctx, task)
			if err != nil {
				return fmt.Errorf("subagent %q: %w", name, err)
			}
			resMu.Lock()
			results[name] = summary
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// LoadPresets reads every .yaml file under dir and creates one subagent
// per preset. Files that fail to parse abort the load.
func (sp *Spawner) LoadPresets(dir string) ([]*Subagent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading preset dir: %w", err)
	}

	var created []*Subagent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return created, fmt.Errorf("reading preset %s: %w", entry.Name(), err)
		}
		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			return created, fmt.Errorf("parsing preset %s: %w", entry.Name(), err)
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		sub, err := sp.Create(p.Name, p.SystemPrompt, p.MaxTokens)
		if err != nil {
			return created, err
		}
		created = append(created, sub)
	}
	return created, nil
}
