package llm

import (
	"fmt"
	"strings"

	"reagent/internal/session"
)

// ParseStep extracts a reasoning step from the model's raw text. The model
// either ends the task with "Final Answer:" or requests a tool via the
// Thought/Action/Action Input markers.
func ParseStep(text string) (session.Step, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return session.Step{}, fmt.Errorf("empty model response")
	}

	if idx := markerIndex(trimmed, "Final Answer:"); idx >= 0 {
		answer := strings.TrimSpace(trimmed[idx+len("Final Answer:"):])
		if answer == "" {
			return session.Step{}, fmt.Errorf("final answer marker with no content")
		}
		return session.Step{FinalAnswer: answer}, nil
	}

	step := session.Step{
		Thought:     section(trimmed, "Thought:", "Action:"),
		Action:      section(trimmed, "Action:", "Action Input:"),
		ActionInput: section(trimmed, "Action Input:", ""),
	}
	if step.Action == "" {
		return session.Step{}, fmt.Errorf("unparseable model response: no action or final answer in %q", truncateForError(trimmed))
	}
	return step, nil
}

// markerIndex finds a marker at the start of a line.
func markerIndex(text, marker string) int {
	if strings.HasPrefix(text, marker) {
		return 0
	}
	idx := strings.Index(text, "\n"+marker)
	if idx < 0 {
		return -1
	}
	return idx + 1
}

// section returns the text between two line-anchored markers, trimmed.
// An empty end marker means "to the end of the text".
func section(text, start, end string) string {
	s := markerIndex(text, start)
	if s < 0 {
		return ""
	}
	rest := text[s+len(start):]
	if end != "" {
		if e := markerIndex(rest, end); e >= 0 {
			rest = rest[:e]
		}
	}
	return strings.TrimSpace(rest)
}

func truncateForError(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
