package agent

import (
	"encoding/json"
	"fmt"
	"time"

	actx "reagent/internal/context"
	"reagent/internal/session"
	"reagent/internal/usage"
)

// UsageState is the persisted form of one ledger: running totals plus the
// full append-only history.
type UsageState struct {
	TotalPromptTokens     int64          `json:"total_prompt_tokens"`
	TotalCompletionTokens int64          `json:"total_completion_tokens"`
	History               []usage.Record `json:"history"`
}

// SubagentState is the persisted form of one subagent.
type SubagentState struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	SystemPrompt string           `json:"system_prompt"`
	Status       string           `json:"status"`
	Context      actx.Snapshot    `json:"context"`
	Usage        UsageState       `json:"usage"`
	Summary      *session.Summary `json:"summary,omitempty"`
}

// Document is the full exported state of an agent and its subagents.
type Document struct {
	AgentID   string          `json:"agent_id"`
	CreatedAt time.Time       `json:"created_at"`
	Context   actx.Snapshot   `json:"context"`
	Usage     UsageState      `json:"usage"`
	Subagents []SubagentState `json:"subagents"`
}

// ExportState captures the agent, its ledger history, and every subagent
// into one document. Derived caches (token counter) are not exported;
// they rebuild lazily after import.
func (a *Agent) ExportState() Document {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc := Document{
		AgentID:   a.id,
		CreatedAt: a.createdAt,
		Context:   a.context.Export(),
		Usage:     usageState(a.ledger),
	}
	for _, sub := range a.spawner.List() {
		doc.Subagents = append(doc.Subagents, SubagentState{
			ID:           sub.ID(),
			Name:         sub.Name(),
			SystemPrompt: sub.SystemPrompt(),
			Status:       sub.Status().String(),
			Context:      sub.Context().Export(),
			Usage:        usageState(sub.Ledger()),
			Summary:      sub.CachedSummary(),
		})
	}
	return doc
}

// ImportState rebuilds the agent from a document. The whole document is
// validated before any live state changes, so a malformed document leaves
// the agent untouched.
func (a *Agent) ImportState(doc Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	window := actx.Config{
		MaxTokens:          doc.Context.MaxTokens,
		NearLimitThreshold: actx.DefaultConfig().NearLimitThreshold,
		Compaction:         actx.DefaultCompactionConfig(),
	}

	mgr := actx.NewManager(doc.AgentID, window, a.counter, a.summarizer)
	if err := mgr.Import(doc.Context); err != nil {
		return err
	}
	ledger := usage.NewLedger(doc.AgentID)
	ledger.Restore(doc.Usage.History)
	if a.store != nil {
		ledger.WithStore(a.store)
	}
	mgr.AttachLedger(ledger)
	ledger.RegisterLimit(doc.AgentID, mgr)

	spawner := session.NewSpawner(session.SpawnerOptions{
		ParentID:     doc.AgentID,
		ParentLedger: ledger,
		Counter:      a.counter,
		Engine:       a.engine,
		Executor:     a.executor,
		Summarizer:   a.summarizer,
		Window:       window,
	})
	for i, st := range doc.Subagents {
		status, err := session.ParseStatus(st.Status)
		if err != nil {
			return &actx.ImportStateError{Field: fmt.Sprintf("subagents[%d].status", i), Reason: err.Error()}
		}
		if _, err := spawner.Restore(session.RestoreState{
			ID:           st.ID,
			Name:         st.Name,
			SystemPrompt: st.SystemPrompt,
			Status:       status,
			Summary:      st.Summary,
			History:      st.Usage.History,
		}, st.Context); err != nil {
			return err
		}
	}

	a.id = doc.AgentID
	a.createdAt = doc.CreatedAt
	a.context = mgr
	a.ledger = ledger
	a.spawner = spawner
	return nil
}

// MarshalState serializes a document as indented JSON.
func MarshalState(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalState parses a document, folding JSON-level failures into the
// import error taxonomy.
func UnmarshalState(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, &actx.ImportStateError{Field: "document", Reason: err.Error()}
	}
	return doc, nil
}

func usageState(l *usage.Ledger) UsageState {
	total := l.Total()
	return UsageState{
		TotalPromptTokens:     total.PromptTokens,
		TotalCompletionTokens: total.CompletionTokens,
		History:               l.History(),
	}
}

// ValidateDocument checks a document without importing it, for callers
// that vet persisted state before use.
func ValidateDocument(doc Document) error {
	return validateDocument(doc)
}

// validateDocument checks the whole document before import touches live
// state. Field paths in errors follow the document layout.
func validateDocument(doc Document) error {
	if doc.AgentID == "" {
		return &actx.ImportStateError{Field: "agent_id", Reason: "must not be empty"}
	}
	if err := actx.ValidateSnapshot("context", doc.Context); err != nil {
		return err
	}
	if err := validateUsage("usage", doc.Usage); err != nil {
		return err
	}
	seen := make(map[string]bool, len(doc.Subagents))
	for i, st := range doc.Subagents {
		prefix := fmt.Sprintf("subagents[%d]", i)
		if st.ID == "" {
			return &actx.ImportStateError{Field: prefix + ".id", Reason: "must not be empty"}
		}
		if st.Name == "" {
			return &actx.ImportStateError{Field: prefix + ".name", Reason: "must not be empty"}
		}
		if seen[st.Name] {
			return &actx.ImportStateError{Field: prefix + ".name", Reason: fmt.Sprintf("duplicate subagent name %q", st.Name)}
		}
		seen[st.Name] = true
		if _, err := session.ParseStatus(st.Status); err != nil {
			return &actx.ImportStateError{Field: prefix + ".status", Reason: err.Error()}
		}
		if err := actx.ValidateSnapshot(prefix+".context", st.Context); err != nil {
			return err
		}
		if err := validateUsage(prefix+".usage", st.Usage); err != nil {
			return err
		}
	}
	return nil
}

func validateUsage(prefix string, u UsageState) error {
	for i, r := range u.History {
		if r.PromptTokens < 0 || r.CompletionTokens < 0 {
			return &actx.ImportStateError{
				Field:  fmt.Sprintf("%s.history[%d]", prefix, i),
				Reason: "token counts must be non-negative",
			}
		}
	}
	return nil
}
