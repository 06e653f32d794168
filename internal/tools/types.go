// Package tools provides the registry of actions a reasoning loop can take.
//
// Tools receive their arguments as a JSON object (the engine's action
// input) and return a plain-text observation. Execution failures are
// ordinary errors; the loop turns them into observations so the engine
// can recover.
package tools

import (
	"context"
	"fmt"
)

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered action.
type Tool struct {
	// Name is the unique identifier the engine uses in its Action field.
	Name string

	// Description explains what the tool does, surfaced to the engine.
	Description string

	// Execute runs the tool.
	Execute ExecuteFunc
}

// Validate checks the tool definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute function is required", t.Name)
	}
	return nil
}
