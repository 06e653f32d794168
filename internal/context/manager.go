package context

import (
	"context"
	"sync"
	"time"

	"reagent/internal/logging"
	"reagent/internal/tokens"
)

// UsageRecorder receives usage events from messages that carry provider
// metadata. Implemented by the usage ledger; kept as a local interface so
// this package does not import internal/usage.
type UsageRecorder interface {
	Record(contextID string, promptTokens, completionTokens int, ts time.Time) error
}

// Config sets the budget and trigger for one context window.
type Config struct {
	MaxTokens          int              `yaml:"max_tokens"`
	NearLimitThreshold float64          `yaml:"near_limit_threshold"`
	Compaction         CompactionConfig `yaml:"compaction"`
}

// DefaultConfig matches the top-level agent defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:          4096,
		NearLimitThreshold: 0.7,
		Compaction:         DefaultCompactionConfig(),
	}
}

// Manager owns one ordered transcript and its token accounting. Appends are
// strictly sequential (single writer by construction); the mutex exists so
// that snapshot reads and the ledger's near-limit probe stay safe from other
// goroutines.
type Manager struct {
	mu sync.RWMutex

	ownerID            string
	messages           []Message
	maxTokens          int
	nearLimitThreshold float64
	compaction         CompactionConfig
	compactionCount    int
	totalTokens        int

	counter    *tokens.Counter
	summarizer Summarizer
	recorder   UsageRecorder
}

// NewManager creates an empty context window owned by ownerID.
func NewManager(ownerID string, cfg Config, counter *tokens.Counter, summarizer Summarizer) *Manager {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.NearLimitThreshold <= 0 {
		cfg.NearLimitThreshold = DefaultConfig().NearLimitThreshold
	}
	return &Manager{
		ownerID:            ownerID,
		maxTokens:          cfg.MaxTokens,
		nearLimitThreshold: cfg.NearLimitThreshold,
		compaction:         cfg.Compaction,
		counter:            counter,
		summarizer:         summarizer,
	}
}

// AttachLedger wires the usage recorder that receives per-message usage
// metadata.
func (m *Manager) AttachLedger(r UsageRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// OwnerID returns the id of the owning agent or subagent.
func (m *Manager) OwnerID() string { return m.ownerID }

// MaxTokens returns the configured window budget.
func (m *Manager) MaxTokens() int { return m.maxTokens }

// Counter exposes the token counter shared with the owner.
func (m *Manager) Counter() *tokens.Counter { return m.counter }

// AddMessage appends one message, computing and caching its token count,
// recording any carried usage metadata, and compacting synchronously when
// the near-limit threshold is crossed. The returned report is non-nil when a
// compaction pass ran inside this call.
func (m *Manager) AddMessage(ctx context.Context, msg Message) (*CompactionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	count, degraded := m.counter.CountText(msg.Content)
	msg.TokenCount = count + tokens.PerMessageOverhead
	msg.Degraded = degraded
	if degraded {
		logging.Get(logging.CategoryTokens).Warnf("context %s: degraded token count for %s message", m.ownerID, msg.Role)
	}

	m.messages = append(m.messages, msg)
	m.totalTokens += msg.TokenCount

	if msg.Usage != nil && m.recorder != nil {
		if err := m.recorder.Record(m.ownerID, msg.Usage.PromptTokens, msg.Usage.CompletionTokens, msg.Timestamp); err != nil {
			return nil, err
		}
	}

	if !m.nearLimitLocked() {
		return nil, nil
	}

	report, err := m.compactLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Messages returns an ordered snapshot of the transcript, safe to retain
// across later mutation.
func (m *Manager) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]Message, len(m.messages))
	copy(snapshot, m.messages)
	return snapshot
}

// Compact applies the compaction policy once and returns the report. A
// context still over budget after the pass is a configuration error and
// surfaces as *OverflowError.
func (m *Manager) Compact(ctx context.Context) (CompactionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactLocked(ctx)
}

func (m *Manager) compactLocked(ctx context.Context) (CompactionReport, error) {
	report := CompactionReport{TokensBefore: m.totalTokens, TokensAfter: m.totalTokens}

	if len(m.messages) <= m.compaction.KeepFirstN+m.compaction.KeepLastN {
		// Already within the kept window; a no-op, not a counted pass.
		if m.totalTokens > m.maxTokens {
			return report, &OverflowError{OwnerID: m.ownerID, TotalTokens: m.totalTokens, MaxTokens: m.maxTokens}
		}
		return report, nil
	}

	before := len(m.messages)
	compacted, err := Compact(ctx, m.messages, m.compaction, m.counter, m.summarizer)
	if err != nil {
		return report, err
	}

	total := 0
	for _, msg := range compacted {
		total += msg.TokenCount
	}

	m.messages = compacted
	m.totalTokens = total
	m.compactionCount++

	report.TokensAfter = total
	report.MessagesRemoved = before - len(compacted)
	logging.Context("context %s compacted: %d -> %d tokens, %d messages removed (pass %d)",
		m.ownerID, report.TokensBefore, report.TokensAfter, report.MessagesRemoved, m.compactionCount)

	if total > m.maxTokens {
		return report, &OverflowError{OwnerID: m.ownerID, TotalTokens: total, MaxTokens: m.maxTokens}
	}
	return report, nil
}

// State reports the externally observable context state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		MessageCount:    len(m.messages),
		TotalTokens:     m.totalTokens,
		CompactionCount: m.compactionCount,
		NearLimit:       m.nearLimitLocked(),
	}
}

// NearLimit reports whether the running total has crossed the configured
// fraction of the budget. The usage ledger delegates here rather than
// duplicating the live count.
func (m *Manager) NearLimit() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nearLimitLocked()
}

func (m *Manager) nearLimitLocked() bool {
	return float64(m.totalTokens) > float64(m.maxTokens)*m.nearLimitThreshold
}

// SetCompactionConfig swaps the compaction configuration. Never called by a
// compaction in progress; the owner does this between passes.
func (m *Manager) SetCompactionConfig(cfg CompactionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compaction = cfg
}

// Clear drops every message. Used by reset; the ledger history is untouched.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.totalTokens = 0
}
