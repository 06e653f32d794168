// Package llm adapts the Gemini API to the session's reasoning and
// summarization ports.
package llm

// =============================================================================
// GEMINI REASONING ENGINE
// =============================================================================
// The engine renders the transcript into Gemini contents, asks for the next
// Thought/Action or Final Answer, and reports token usage from the API's
// usage metadata so ledgers record real counts instead of heuristics.

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	actx "reagent/internal/context"
	"reagent/internal/logging"
	"reagent/internal/session"
)

const defaultModel = "gemini-2.5-flash"

// Engine is a Gemini-backed session.ReasoningEngine and context.Summarizer.
type Engine struct {
	client *genai.Client
	model  string
}

// New creates an engine. Model defaults to a fast Gemini variant when empty.
func New(ctx context.Context, apiKey, model string) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Engine{client: client, model: model}, nil
}

// Step asks the model for the next reasoning step over the transcript.
func (e *Engine) Step(ctx context.Context, transcript []actx.Message, tools []session.ToolInfo) (session.Step, error) {
	system, contents := renderTranscript(transcript)
	instruction := reactInstruction(system, tools)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return session.Step{}, fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	step, err := ParseStep(text)
	if err != nil {
		return session.Step{}, err
	}
	step.Usage = usageFrom(resp)
	logging.Get(logging.CategoryAPI).Debugf("step: model=%s, %d chars, usage=%+v", e.model, len(text), step.Usage)
	return step, nil
}

// Summarize condenses messages into at most budgetTokens worth of prose.
func (e *Engine) Summarize(ctx context.Context, msgs []actx.Message, budgetTokens int) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the following conversation in at most %d tokens. ", budgetTokens)
	sb.WriteString("Preserve decisions, open tasks, and facts needed to continue the work. Respond with the summary only.\n\n")
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, msg.Content)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(sb.String(), genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: int32(budgetTokens * 2),
	}
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI summarize failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty summary from model")
	}
	return text, nil
}

// renderTranscript maps the context messages onto Gemini roles. System
// messages are pulled out for the system instruction; tool observations
// and summary notes go to the user role since Gemini only accepts
// user/model turns.
func renderTranscript(msgs []actx.Message) (system string, contents []*genai.Content) {
	var sysParts []string
	for _, msg := range msgs {
		switch msg.Role {
		case actx.RoleSystem:
			sysParts = append(sysParts, msg.Content)
		case actx.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case actx.RoleTool, actx.RoleObservation:
			contents = append(contents, genai.NewContentFromText("Observation: "+msg.Content, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return strings.Join(sysParts, "\n\n"), contents
}

func reactInstruction(system string, tools []session.ToolInfo) string {
	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	sb.WriteString("You solve tasks step by step using the available tools.\n\nTools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	sb.WriteString(`
Respond in exactly one of two forms.

To use a tool:
Thought: <your reasoning>
Action: <tool name>
Action Input: <JSON object of arguments>

To finish:
Final Answer: <your answer>
`)
	return sb.String()
}

func usageFrom(resp *genai.GenerateContentResponse) *actx.MessageUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &actx.MessageUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}
