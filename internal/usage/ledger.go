package usage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"reagent/internal/logging"
)

// LimitSource is the live near-limit probe of a context manager. The ledger
// delegates the lookup instead of duplicating the running token count.
type LimitSource interface {
	NearLimit() bool
}

// Ledger records token usage for one agent or subagent. Appends are
// mutex-guarded so a parent and its subagents can record interleaved without
// losing an update; reads may trail in-flight writes but never double-count.
type Ledger struct {
	mu sync.Mutex

	ownerID  string
	records  []Record
	live     Totals
	children map[string]*Ledger
	sources  map[string]LimitSource
	store    *Store
	sealed   bool
}

// NewLedger creates an empty ledger owned by ownerID.
func NewLedger(ownerID string) *Ledger {
	return &Ledger{
		ownerID:  ownerID,
		children: make(map[string]*Ledger),
		sources:  make(map[string]LimitSource),
	}
}

// WithStore attaches a durable event store; every subsequent append is also
// written through.
func (l *Ledger) WithStore(s *Store) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s
	return l
}

// OwnerID returns the id of the owning agent or subagent.
func (l *Ledger) OwnerID() string { return l.ownerID }

// Record appends one usage event. Safe for concurrent use.
func (l *Ledger) Record(contextID string, promptTokens, completionTokens int, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return &ConcurrentWriteError{OwnerID: l.ownerID}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	rec := Record{
		ContextID:        contextID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Timestamp:        ts,
	}
	l.records = append(l.records, rec)
	l.live.Add(promptTokens, completionTokens)

	if l.store != nil {
		if err := l.store.Append(rec); err != nil {
			return fmt.Errorf("usage store append: %w", err)
		}
	}
	return nil
}

// Total aggregates every record in this ledger. History is append-only, so
// this is unaffected by ResetLive.
func (l *Ledger) Total() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked("")
}

// TotalFor aggregates the records attributed to one context id.
func (l *Ledger) TotalFor(contextID string) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked(contextID)
}

func (l *Ledger) totalLocked(contextID string) Totals {
	var t Totals
	for _, r := range l.records {
		if contextID != "" && r.ContextID != contextID {
			continue
		}
		t.Add(r.PromptTokens, r.CompletionTokens)
	}
	return t
}

// Live returns the resettable running counters; unlike Total, these are
// zeroed by a reset while the record history survives.
func (l *Ledger) Live() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// ResetLive zeroes the running counters. Prior records are never erased.
func (l *Ledger) ResetLive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live = Totals{}
	logging.Usage("ledger %s: live counters reset (%d historical records kept)", l.ownerID, len(l.records))
}

// History returns a copy of every record, in append order.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Restore replaces the record history with persisted records, in order.
// Live counters stay untouched; a restored session starts a fresh run.
func (l *Ledger) Restore(records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make([]Record, len(records))
	copy(l.records, records)
}

// RegisterChild links a descendant subagent ledger into this ledger's
// rollup. The child keeps exclusive ownership of its own records.
func (l *Ledger) RegisterChild(child *Ledger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.children[child.ownerID] = child
}

// Children returns the registered descendant ledgers, ordered by owner id.
func (l *Ledger) Children() []*Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Ledger, 0, len(l.children))
	for _, c := range l.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ownerID < out[j].ownerID })
	return out
}

// Rollup aggregates this ledger plus all descendants, computed lazily at
// query time rather than maintained on every descendant write.
func (l *Ledger) Rollup() Totals {
	total := l.Total()
	for _, child := range l.Children() {
		total.merge(child.Rollup())
	}
	return total
}

// RegisterLimit wires the live near-limit probe for a context id.
func (l *Ledger) RegisterLimit(contextID string, src LimitSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[contextID] = src
}

// NearLimit reports whether a context has crossed its configured threshold,
// delegating to the owning context manager.
func (l *Ledger) NearLimit(contextID string) (bool, error) {
	l.mu.Lock()
	src, ok := l.sources[contextID]
	l.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("ledger %s: no context registered for %q", l.ownerID, contextID)
	}
	return src.NearLimit(), nil
}

// Seal closes the append path. Used on teardown so a straggling writer
// surfaces as ConcurrentWriteError instead of silently losing its event.
func (l *Ledger) Seal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
}
