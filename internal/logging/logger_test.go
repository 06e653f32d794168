package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitialize_DisabledIsNoop(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Session("should go nowhere")

	if _, err := os.Stat(filepath.Join(ws, ".reagent", "logs")); !os.IsNotExist(err) {
		t.Fatalf("logs directory created in production mode")
	}
}

func TestInitialize_WritesCategoryFile(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Context("compaction saved %d tokens", 42)
	Get(CategoryContext).Sync()

	data, err := os.ReadFile(filepath.Join(ws, ".reagent", "logs", "context.log"))
	if err != nil {
		t.Fatalf("read context.log: %v", err)
	}
	if !strings.Contains(string(data), "compaction saved 42 tokens") {
		t.Fatalf("context.log missing entry, got: %s", data)
	}
}

func TestInitialize_CategoryFilter(t *testing.T) {
	ws := t.TempDir()
	err := Initialize(ws, Options{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"session": true},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Usage("filtered out")
	Session("kept")
	Get(CategorySession).Sync()

	if _, err := os.Stat(filepath.Join(ws, ".reagent", "logs", "usage.log")); !os.IsNotExist(err) {
		t.Fatalf("usage.log written despite disabled category")
	}
	if _, err := os.Stat(filepath.Join(ws, ".reagent", "logs", "session.log")); err != nil {
		t.Fatalf("session.log missing: %v", err)
	}
}
