package context

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"reagent/internal/tokens"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	m := testManager(t, 2000, 0.7, CompactionConfig{
		KeepFirstN: 1, KeepLastN: 2, SummarizeMiddle: true, SummaryTokenBudget: 60,
	})

	if _, err := m.AddMessage(context.Background(), Message{Role: RoleSystem, Content: "you are a test agent"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	for i := 0; i < 12; i++ {
		if _, err := m.AddMessage(context.Background(), Message{Role: RoleUser, Content: strings.Repeat("conversation turn ", 9)}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	if _, err := m.Compact(context.Background()); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	exported := m.Export()
	data, err := MarshalSnapshot(exported)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	parsed, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}

	restored := NewManager("ctx_test", DefaultConfig(), tokens.NewCounter(), ExtractiveSummarizer{})
	if err := restored.Import(parsed); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if diff := cmp.Diff(exported.Messages, restored.Messages()); diff != "" {
		t.Fatalf("messages differ after round trip (-want +got):\n%s", diff)
	}
	origState, newState := m.State(), restored.State()
	if newState.TotalTokens != origState.TotalTokens {
		t.Fatalf("total_tokens = %d, want %d", newState.TotalTokens, origState.TotalTokens)
	}
	if newState.CompactionCount != origState.CompactionCount {
		t.Fatalf("compaction_count = %d, want %d", newState.CompactionCount, origState.CompactionCount)
	}
}

func TestImport_RejectsMalformedState(t *testing.T) {
	tests := []struct {
		name      string
		snapshot  Snapshot
		wantField string
	}{
		{
			name:      "non-positive max tokens",
			snapshot:  Snapshot{MaxTokens: 0},
			wantField: "context.max_tokens",
		},
		{
			name:      "negative compaction count",
			snapshot:  Snapshot{MaxTokens: 1000, CompactionCount: -1},
			wantField: "context.compaction_count",
		},
		{
			name: "unknown role",
			snapshot: Snapshot{
				MaxTokens: 1000,
				Messages:  []Message{{Role: Role("wizard"), Content: "hm", TokenCount: 5}},
			},
			wantField: "context.messages[0].role",
		},
		{
			name: "negative token count",
			snapshot: Snapshot{
				MaxTokens: 1000,
				Messages: []Message{
					{Role: RoleUser, Content: "fine", TokenCount: 5},
					{Role: RoleUser, Content: "bad", TokenCount: -2},
				},
			},
			wantField: "context.messages[1].token_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("x", DefaultConfig(), tokens.NewCounter(), ExtractiveSummarizer{})
			err := m.Import(tt.snapshot)
			var ise *ImportStateError
			if !errors.As(err, &ise) {
				t.Fatalf("error = %v, want *ImportStateError", err)
			}
			if ise.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", ise.Field, tt.wantField)
			}
		})
	}
}

func TestImport_FailureLeavesManagerUnchanged(t *testing.T) {
	m := testManager(t, 1000, 0.9, DefaultCompactionConfig())
	if _, err := m.AddMessage(context.Background(), Message{Role: RoleUser, Content: "keep me"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := m.Import(Snapshot{MaxTokens: -5}); err == nil {
		t.Fatalf("expected import failure")
	}

	msgs := m.Messages()
	if len(msgs) != 1 || msgs[0].Content != "keep me" {
		t.Fatalf("failed import mutated the transcript: %+v", msgs)
	}
}

func TestUnmarshalSnapshot_BadJSON(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte("{not json"))
	var ise *ImportStateError
	if !errors.As(err, &ise) {
		t.Fatalf("error = %v, want *ImportStateError", err)
	}
}
