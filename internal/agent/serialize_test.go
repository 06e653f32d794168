package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	actx "reagent/internal/context"
)

func exportedJSON(t *testing.T, a *Agent) string {
	t.Helper()
	data, err := MarshalState(a.ExportState())
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}
	return string(data)
}

func TestStateRoundTrip(t *testing.T) {
	a := testAgent(t, answerEngine{answer: "first answer"})
	if _, err := a.Run(context.Background(), "do the work"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sub, err := a.CreateSubagent("researcher", "You research.", 2048)
	if err != nil {
		t.Fatalf("CreateSubagent: %v", err)
	}
	if _, err := sub.Run(context.Background(), "dig in"); err != nil {
		t.Fatalf("subagent Run: %v", err)
	}
	if err := a.MergeSummary(context.Background(), "researcher"); err != nil {
		t.Fatalf("MergeSummary: %v", err)
	}

	data, err := MarshalState(a.ExportState())
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}
	doc, err := UnmarshalState(data)
	if err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}

	b := testAgent(t, answerEngine{answer: "first answer"})
	if err := b.ImportState(doc); err != nil {
		t.Fatalf("ImportState: %v", err)
	}

	if b.ID() != a.ID() {
		t.Fatalf("imported id = %s, want %s", b.ID(), a.ID())
	}
	if diff := cmp.Diff(a.Context().Messages(), b.Context().Messages()); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	if a.Context().State() != b.Context().State() {
		t.Fatalf("state mismatch: %+v != %+v", a.Context().State(), b.Context().State())
	}
	if a.Ledger().Total() != b.Ledger().Total() {
		t.Fatalf("ledger totals mismatch")
	}

	restored := b.Subagent("researcher")
	if restored == nil {
		t.Fatal("subagent not restored")
	}
	if restored.ID() != sub.ID() {
		t.Fatalf("subagent id = %s, want %s", restored.ID(), sub.ID())
	}
	if restored.Status() != sub.Status() {
		t.Fatalf("subagent status = %s, want %s", restored.Status(), sub.Status())
	}
	if got := restored.CachedSummary(); got == nil || got.Text != sub.CachedSummary().Text {
		t.Fatal("cached summary not restored")
	}

	// A second export must match the first byte for byte.
	if got, want := exportedJSON(t, b), string(data); got != want {
		t.Fatalf("re-export drifted:\n%s", cmp.Diff(want, got))
	}
}

func TestImportValidatesBeforeMutating(t *testing.T) {
	a := testAgent(t, answerEngine{answer: "x"})
	if _, err := a.Run(context.Background(), "task"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before := exportedJSON(t, a)

	cases := []struct {
		name   string
		mutate func(*Document)
		field  string
	}{
		{
			name:   "missing agent id",
			mutate: func(d *Document) { d.AgentID = "" },
			field:  "agent_id",
		},
		{
			name:   "bad context window",
			mutate: func(d *Document) { d.Context.MaxTokens = 0 },
			field:  "context.max_tokens",
		},
		{
			name: "bad message role",
			mutate: func(d *Document) {
				d.Context.Messages[0].Role = "narrator"
			},
			field: "context.messages[0].role",
		},
		{
			name: "negative usage",
			mutate: func(d *Document) {
				d.Usage.History[0].PromptTokens = -1
			},
			field: "usage.history[0]",
		},
		{
			name: "subagent without name",
			mutate: func(d *Document) {
				d.Subagents = append(d.Subagents, SubagentState{
					ID:      "sub-1",
					Status:  "created",
					Context: actx.Snapshot{MaxTokens: 100},
				})
			},
			field: "subagents[0].name",
		},
		{
			name: "unknown subagent status",
			mutate: func(d *Document) {
				d.Subagents = append(d.Subagents, SubagentState{
					ID:      "sub-1",
					Name:    "ghost",
					Status:  "paused",
					Context: actx.Snapshot{MaxTokens: 100},
				})
			},
			field: "subagents[0].status",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := UnmarshalState([]byte(before))
			if err != nil {
				t.Fatalf("UnmarshalState: %v", err)
			}
			tc.mutate(&doc)

			err = a.ImportState(doc)
			var ise *actx.ImportStateError
			if !errors.As(err, &ise) {
				t.Fatalf("err = %v, want ImportStateError", err)
			}
			if ise.Field != tc.field {
				t.Fatalf("field = %q, want %q", ise.Field, tc.field)
			}
			if got := exportedJSON(t, a); got != before {
				t.Fatal("failed import mutated the agent")
			}
		})
	}
}

func TestUnmarshalStateBadJSON(t *testing.T) {
	_, err := UnmarshalState([]byte("{not json"))
	var ise *actx.ImportStateError
	if !errors.As(err, &ise) {
		t.Fatalf("err = %v, want ImportStateError", err)
	}
	if !strings.Contains(ise.Field, "document") {
		t.Fatalf("field = %q, want document", ise.Field)
	}
}
