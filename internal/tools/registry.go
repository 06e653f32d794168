package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"reagent/internal/logging"
	"reagent/internal/session"
)

// Registry holds the available tools. It is safe for concurrent use and
// satisfies session.ToolExecutor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	logging.Get(logging.CategoryTools).Debugf("registered tool: %s", tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Tools lists the registered tools sorted by name.
func (r *Registry) Tools() []session.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, session.ToolInfo{Name: t.Name, Description: t.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool with a JSON-object action input. A bare
// string input is wrapped as {"input": ...} so engines that emit plain
// arguments still work.
func (r *Registry) Invoke(ctx context.Context, action, input string) (string, error) {
	tool := r.Get(action)
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", action)
	}

	args, err := parseArgs(input)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", action, err)
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", action, err)
	}
	return result, nil
}

func parseArgs(input string) (map[string]any, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return nil, fmt.Errorf("parsing action input: %w", err)
		}
		return args, nil
	}
	return map[string]any{"input": trimmed}, nil
}
