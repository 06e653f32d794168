package context

import (
	"context"
	"fmt"
	"strings"

	"reagent/internal/logging"
	"reagent/internal/tokens"
)

// Summarizer condenses a message span into text that fits a token budget.
// Implementations must be deterministic for identical input so repeated
// compactions are reproducible; the invocation is keyed by the content hash
// of the span being summarized.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message, budgetTokens int) (string, error)
}

// Compact applies the compaction policy to a message sequence. It is a pure
// function of its inputs: the input slice is never mutated, and identical
// middle content produces an identical summarization invocation.
//
// The result keeps the first KeepFirstN and last KeepLastN messages. The
// middle is either condensed into one system-note message or dropped
// outright. A summary that fails to shrink the content it replaces is a
// policy violation and is returned as a SummaryGrowthError.
func Compact(ctx context.Context, msgs []Message, cfg CompactionConfig, counter *tokens.Counter, summarizer Summarizer) ([]Message, error) {
	if len(msgs) <= cfg.KeepFirstN+cfg.KeepLastN {
		return msgs, nil
	}

	first := msgs[:cfg.KeepFirstN]
	last := msgs[len(msgs)-cfg.KeepLastN:]
	middle := msgs[cfg.KeepFirstN : len(msgs)-cfg.KeepLastN]

	result := make([]Message, 0, len(first)+len(last)+1)
	result = append(result, first...)

	if cfg.SummarizeMiddle && len(middle) > 0 {
		if summarizer == nil {
			return nil, fmt.Errorf("summarize_middle enabled but no summarizer configured")
		}

		middleTokens := 0
		for _, m := range middle {
			middleTokens += m.TokenCount
		}
		header := fmt.Sprintf("[Context summary - %d messages compressed]\n", len(middle))
		headerTokens, _ := counter.CountText(header)

		// The summary message must land strictly below the span it
		// replaces, header and framing overhead included. Cap the budget
		// so a budget-respecting summarizer cannot trip the growth guard
		// on short middles.
		budget := cfg.SummaryTokenBudget
		if limit := middleTokens - tokens.PerMessageOverhead - headerTokens - 1; budget <= 0 || budget > limit {
			budget = limit
		}
		if budget < 1 {
			// Even an empty summary would not shrink this span; dropping
			// the middle is the only compaction left.
			result = append(result, last...)
			return result, nil
		}

		key := middleKey(middle)
		logging.ContextDebug("summarizing %d middle messages (key=%x, budget=%d)", len(middle), key, budget)

		text, err := summarizer.Summarize(ctx, middle, budget)
		if err != nil {
			return nil, fmt.Errorf("summarize middle: %w", err)
		}

		content := header + text
		count, degraded := counter.CountText(content)
		count += tokens.PerMessageOverhead
		if count >= middleTokens {
			return nil, &SummaryGrowthError{SummaryTokens: count, MiddleTokens: middleTokens}
		}

		result = append(result, Message{
			Role:       RoleSystemNote,
			Content:    content,
			TokenCount: count,
			Timestamp:  middle[len(middle)-1].Timestamp,
			Degraded:   degraded,
		})
	}

	result = append(result, last...)
	return result, nil
}

// middleKey is the deterministic invocation key for a summarized span.
func middleKey(middle []Message) uint64 {
	var sb strings.Builder
	for _, m := range middle {
		sb.WriteString(string(m.Role))
		sb.WriteByte(':')
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return tokens.ContentKey(sb.String())
}

// ExtractiveSummarizer is the built-in deterministic fallback: it condenses
// messages into role-labeled one-liners, truncated to the token budget, with
// no external call. Used when no LLM-backed summarizer is wired in.
type ExtractiveSummarizer struct{}

const extractSnippetLen = 200

func (ExtractiveSummarizer) Summarize(_ context.Context, messages []Message, budgetTokens int) (string, error) {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if len(content) > extractSnippetLen {
			content = content[:extractSnippetLen] + "..."
		}
		switch m.Role {
		case RoleUser:
			parts = append(parts, "User asked: "+content)
		case RoleAssistant:
			parts = append(parts, "Assistant: "+content)
		case RoleTool, RoleObservation:
			parts = append(parts, "Observed: "+content)
		default:
			parts = append(parts, string(m.Role)+": "+content)
		}
	}

	text := strings.Join(parts, "\n")

	// Budget is enforced approximately: 4 characters per token, cut at a
	// line boundary where possible.
	maxChars := budgetTokens * 4
	if budgetTokens > 0 && len(text) > maxChars {
		cut := strings.LastIndexByte(text[:maxChars], '\n')
		if cut <= 0 {
			cut = maxChars
		}
		text = text[:cut]
	}
	return text, nil
}
