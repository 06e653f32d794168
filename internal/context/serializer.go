package context

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the persisted form of one context window, per the export
// document layout. Derived data (the token counter cache) is not persisted;
// it is rebuilt lazily as content is re-counted.
type Snapshot struct {
	Messages        []Message `json:"messages"`
	MaxTokens       int       `json:"max_tokens"`
	CompactionCount int       `json:"compaction_count"`
}

// Export captures the full serializable state of the context.
func (m *Manager) Export() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return Snapshot{
		Messages:        msgs,
		MaxTokens:       m.maxTokens,
		CompactionCount: m.compactionCount,
	}
}

// Import replaces the transcript with a previously exported snapshot. The
// reconstructed context is observably identical: message order, roles,
// content, per-message counts, and compaction count are restored exactly;
// the running total is recomputed from the stored counts.
func (m *Manager) Import(s Snapshot) error {
	if err := validateSnapshot("context", s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)

	total := 0
	for _, msg := range msgs {
		total += msg.TokenCount
	}

	m.messages = msgs
	m.maxTokens = s.MaxTokens
	m.compactionCount = s.CompactionCount
	m.totalTokens = total
	return nil
}

// validateSnapshot checks a snapshot before it touches any live state, so a
// failed import leaves the manager unchanged. The prefix names the document
// path of the snapshot being validated (e.g. "context" or "subagents[1].context").
func validateSnapshot(prefix string, s Snapshot) error {
	if s.MaxTokens <= 0 {
		return &ImportStateError{Field: prefix + ".max_tokens", Reason: fmt.Sprintf("must be positive, got %d", s.MaxTokens)}
	}
	if s.CompactionCount < 0 {
		return &ImportStateError{Field: prefix + ".compaction_count", Reason: fmt.Sprintf("must be non-negative, got %d", s.CompactionCount)}
	}
	for i, msg := range s.Messages {
		if !validRole(msg.Role) {
			return &ImportStateError{
				Field:  fmt.Sprintf("%s.messages[%d].role", prefix, i),
				Reason: fmt.Sprintf("unknown role %q", msg.Role),
			}
		}
		if msg.TokenCount < 0 {
			return &ImportStateError{
				Field:  fmt.Sprintf("%s.messages[%d].token_count", prefix, i),
				Reason: fmt.Sprintf("must be non-negative, got %d", msg.TokenCount),
			}
		}
	}
	return nil
}

// ValidateSnapshot exposes snapshot validation for composite documents that
// embed context snapshots (the agent-level export).
func ValidateSnapshot(prefix string, s Snapshot) error {
	return validateSnapshot(prefix, s)
}

func validRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleSystemNote, RoleObservation:
		return true
	}
	return false
}

// MarshalSnapshot serializes a snapshot as indented JSON, matching the
// on-disk state format.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSnapshot parses a snapshot, translating JSON-level failures into
// an ImportStateError so import callers see one error taxonomy.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, &ImportStateError{Field: "context", Reason: err.Error()}
	}
	return s, nil
}
