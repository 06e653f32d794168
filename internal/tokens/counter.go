// Package tokens provides deterministic token estimation for transcript
// accounting. The heuristic is calibrated for Claude-family tokenizers
// (~4 characters per token). Counts are pure functions of content, which
// makes them safe to cache by content hash: message content never mutates
// after insertion, so a cached count never goes stale.
package tokens

import (
	"hash/fnv"
	"sync"
	"unicode/utf8"
)

// PerMessageOverhead is the fixed framing cost charged per message on top of
// its raw content: role markers and structural tokens that are not present in
// the content itself.
const PerMessageOverhead = 4

const charsPerToken = 4

// Counter estimates token counts for text spans and message sequences.
// It is safe for concurrent use.
type Counter struct {
	mu    sync.RWMutex
	cache map[uint64]cacheEntry
}

type cacheEntry struct {
	tokens   int
	degraded bool
}

// NewCounter creates a counter with an empty content-hash cache.
func NewCounter() *Counter {
	return &Counter{cache: make(map[uint64]cacheEntry)}
}

// CountText estimates tokens in a span of text. The degraded flag reports
// that the content could not be processed as UTF-8 and a byte-length
// fallback was used instead; the caller keeps accounting either way.
func (c *Counter) CountText(s string) (count int, degraded bool) {
	if s == "" {
		return 0, false
	}

	key := contentHash(s)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return entry.tokens, entry.degraded
	}

	if utf8.ValidString(s) {
		runes := utf8.RuneCountInString(s)
		count = (runes + charsPerToken - 1) / charsPerToken
	} else {
		// Encoding failure is absorbed locally: estimate from raw bytes
		// and mark the result degraded rather than failing the caller.
		count = (len(s) + charsPerToken - 1) / charsPerToken
		degraded = true
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{tokens: count, degraded: degraded}
	c.mu.Unlock()

	return count, degraded
}

// CountMessages estimates tokens for a message sequence: the sum of the
// per-content counts plus PerMessageOverhead for every message. The degraded
// flag is set if any individual count was degraded.
func (c *Counter) CountMessages(contents []string) (count int, degraded bool) {
	for _, content := range contents {
		n, deg := c.CountText(content)
		count += n
		degraded = degraded || deg
	}
	count += len(contents) * PerMessageOverhead
	return count, degraded
}

// CacheSize returns the number of distinct content spans counted so far.
func (c *Counter) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// ContentKey returns the deterministic cache key for a span of text. The same
// key is used to identify summarization inputs, so repeated compactions over
// identical content are reproducible.
func ContentKey(s string) uint64 {
	return contentHash(s)
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
