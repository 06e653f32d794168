package session

import (
	"context"
	"fmt"

	actx "reagent/internal/context"
)

// RunLoop drives the reason/act/observe cycle over mgr until the engine
// produces a final answer, appending each step to the context. The final
// answer text is returned after it has been recorded as an assistant
// message. Both the root agent and subagents run on this loop.
func RunLoop(ctx context.Context, mgr *actx.Manager, engine ReasoningEngine, executor ToolExecutor, maxTurns int) (string, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		step, err := engine.Step(ctx, mgr.Messages(), executor.Tools())
		if err != nil {
			return "", fmt.Errorf("reasoning step %d: %w", turn, err)
		}

		if step.FinalAnswer != "" {
			if _, err := mgr.AddMessage(ctx, actx.Message{
				Role:    actx.RoleAssistant,
				Content: step.FinalAnswer,
				Usage:   step.Usage,
			}); err != nil {
				return "", err
			}
			return step.FinalAnswer, nil
		}

		thought := step.Thought
		if thought == "" {
			thought = fmt.Sprintf("using %s", step.Action)
		}
		if _, err := mgr.AddMessage(ctx, actx.Message{
			Role:    actx.RoleAssistant,
			Content: fmt.Sprintf("Thought: %s\nAction: %s\nAction input: %s", thought, step.Action, step.ActionInput),
			Usage:   step.Usage,
		}); err != nil {
			return "", err
		}

		observation, err := executor.Invoke(ctx, step.Action, step.ActionInput)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Execution failures flow back into the loop as observations;
			// the engine decides whether to retry or give up.
			observation = fmt.Sprintf("error: %v", err)
		}
		if _, err := mgr.AddMessage(ctx, actx.Message{Role: actx.RoleTool, Content: observation}); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("context %s: max turns (%d) reached without final answer", mgr.OwnerID(), maxTurns)
}
