package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Tool{
		Name:        "greet",
		Description: "greets",
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			return "hello " + name, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := r.Invoke(context.Background(), "greet", `{"name": "dev"}`)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello dev" {
		t.Fatalf("Invoke = %q, want %q", out, "hello dev")
	}

	if _, err := r.Invoke(context.Background(), "missing", "{}"); err == nil {
		t.Fatal("unknown tool should fail")
	}
	if err := r.Register(&Tool{Name: "greet", Execute: func(context.Context, map[string]any) (string, error) { return "", nil }}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestInvokeBareStringInput(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Tool{
		Name: "echo",
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprint(args["input"]), nil
		},
	})
	out, err := r.Invoke(context.Background(), "echo", "plain text")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "plain text" {
		t.Fatalf("Invoke = %q, want the bare input", out)
	}
}

func TestToolsListSorted(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, t.TempDir())
	infos := r.Tools()
	want := []string{"glob_search", "grep_search", "list_directory", "read_file", "run_bash", "write_file"}
	if len(infos) != len(want) {
		t.Fatalf("got %d tools, want %d", len(infos), len(want))
	}
	for i, info := range infos {
		if info.Name != want[i] {
			t.Fatalf("Tools[%d] = %s, want %s", i, info.Name, want[i])
		}
		if info.Description == "" {
			t.Fatalf("%s has no description", info.Name)
		}
	}
}

func TestFileToolsRoundTrip(t *testing.T) {
	ws := t.TempDir()
	r := NewRegistry()
	RegisterBuiltins(r, ws)
	ctx := context.Background()

	if _, err := r.Invoke(ctx, "write_file", `{"path": "notes/plan.txt", "content": "step one"}`); err != nil {
		t.Fatalf("write_file: %v", err)
	}
	out, err := r.Invoke(ctx, "read_file", `{"path": "notes/plan.txt"}`)
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if out != "step one" {
		t.Fatalf("read_file = %q, want %q", out, "step one")
	}

	listing, err := r.Invoke(ctx, "list_directory", `{"path": "notes"}`)
	if err != nil {
		t.Fatalf("list_directory: %v", err)
	}
	if listing != "plan.txt" {
		t.Fatalf("list_directory = %q, want plan.txt", listing)
	}
}

func TestGlobSearch(t *testing.T) {
	ws := t.TempDir()
	for _, p := range []string{"main.go", "util.go", "docs/readme.md", "internal/deep/handler.go"} {
		full := filepath.Join(ws, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}
	r := NewRegistry()
	RegisterBuiltins(r, ws)
	ctx := context.Background()

	out, err := r.Invoke(ctx, "glob_search", `{"pattern": "**/*.go"}`)
	if err != nil {
		t.Fatalf("glob_search: %v", err)
	}
	for _, want := range []string{"main.go", "util.go", filepath.Join("internal", "deep", "handler.go")} {
		if !strings.Contains(out, want) {
			t.Fatalf("glob_search = %q, missing %s", out, want)
		}
	}
	if strings.Contains(out, "readme.md") {
		t.Fatalf("glob_search = %q, should not match readme.md", out)
	}

	out, err = r.Invoke(ctx, "glob_search", `{"pattern": "*.md", "path": "docs"}`)
	if err != nil {
		t.Fatalf("glob_search with path: %v", err)
	}
	if out != "readme.md" {
		t.Fatalf("glob_search = %q, want readme.md", out)
	}

	out, err = r.Invoke(ctx, "glob_search", `{"pattern": "*.zig"}`)
	if err != nil {
		t.Fatalf("glob_search no match: %v", err)
	}
	if !strings.Contains(out, "No files found") {
		t.Fatalf("glob_search = %q, want a no-match message", out)
	}

	if _, err := r.Invoke(ctx, "glob_search", `{"pattern": "../**"}`); err == nil || !strings.Contains(err.Error(), "escapes workspace") {
		t.Fatalf("err = %v, want a workspace escape rejection", err)
	}
}

func TestGrepSearch(t *testing.T) {
	ws := t.TempDir()
	files := map[string]string{
		"server.go":      "package main\n\n// TODO: retry on failure\nfunc serve() {}\n",
		"client.go":      "package main\n\nfunc dial() error { return nil }\n",
		"notes/todo.txt": "todo: write more tests\n",
	}
	for p, content := range files {
		full := filepath.Join(ws, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}
	r := NewRegistry()
	RegisterBuiltins(r, ws)
	ctx := context.Background()

	// Case-insensitive by default: matches both TODO and todo.
	out, err := r.Invoke(ctx, "grep_search", `{"pattern": "todo"}`)
	if err != nil {
		t.Fatalf("grep_search: %v", err)
	}
	if !strings.Contains(out, "server.go:3:") || !strings.Contains(out, "todo.txt:1:") {
		t.Fatalf("grep_search = %q, want hits in server.go and todo.txt", out)
	}

	out, err = r.Invoke(ctx, "grep_search", `{"pattern": "TODO", "case_sensitive": true}`)
	if err != nil {
		t.Fatalf("grep_search case-sensitive: %v", err)
	}
	if strings.Contains(out, "todo.txt") {
		t.Fatalf("grep_search = %q, lowercase hit despite case_sensitive", out)
	}

	out, err = r.Invoke(ctx, "grep_search", `{"pattern": "func \\w+", "file_pattern": "*.go"}`)
	if err != nil {
		t.Fatalf("grep_search filtered: %v", err)
	}
	if !strings.Contains(out, "server.go:4:") || !strings.Contains(out, "client.go:3:") {
		t.Fatalf("grep_search = %q, want func hits in both .go files", out)
	}
	if strings.Contains(out, "todo.txt") {
		t.Fatalf("grep_search = %q, file_pattern should exclude todo.txt", out)
	}

	out, err = r.Invoke(ctx, "grep_search", `{"pattern": "nowhere-to-be-seen"}`)
	if err != nil {
		t.Fatalf("grep_search no match: %v", err)
	}
	if !strings.Contains(out, "No matches found") {
		t.Fatalf("grep_search = %q, want a no-match message", out)
	}

	if _, err := r.Invoke(ctx, "grep_search", `{"pattern": "[unclosed"}`); err == nil || !strings.Contains(err.Error(), "invalid regex") {
		t.Fatalf("err = %v, want an invalid regex error", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	ws := t.TempDir()
	r := NewRegistry()
	RegisterBuiltins(r, ws)

	_, err := r.Invoke(context.Background(), "read_file", `{"path": "../outside.txt"}`)
	if err == nil || !strings.Contains(err.Error(), "escapes workspace") {
		t.Fatalf("err = %v, want a workspace escape rejection", err)
	}
}

func TestRunBash(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "data.txt"), []byte("42\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	r := NewRegistry()
	RegisterBuiltins(r, ws)
	ctx := context.Background()

	out, err := r.Invoke(ctx, "run_bash", `{"command": "cat data.txt"}`)
	if err != nil {
		t.Fatalf("run_bash: %v", err)
	}
	if out != "42" {
		t.Fatalf("run_bash = %q, want %q", out, "42")
	}

	out, err = r.Invoke(ctx, "run_bash", `{"command": "exit 3"}`)
	if err != nil {
		t.Fatalf("nonzero exit should be an observation, got error %v", err)
	}
	if !strings.Contains(out, "exit code 3") {
		t.Fatalf("run_bash = %q, want the exit code reported", out)
	}
}
