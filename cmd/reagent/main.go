package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reagent/internal/agent"
	"reagent/internal/config"
	actx "reagent/internal/context"
	"reagent/internal/llm"
	"reagent/internal/logging"
	"reagent/internal/tools"
	"reagent/internal/usage"
)

var (
	// Global flags
	verbose   bool
	workspace string
	apiKey    string
	model     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reagent",
	Short: "reagent - a reasoning agent with bounded context windows",
	Long: `reagent runs reason/act/observe loops inside a strictly bounded
context window. Token usage is metered per agent and per subagent, the
transcript compacts automatically near the window limit, and the whole
session state exports to a JSON document.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return logging.Initialize(workspace, cfg.Logging.Options())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes a single task
var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run one task through the reasoning loop",
	Long: `Runs a task to completion. Session state is loaded from
.reagent/state.json if present and saved back afterwards, so repeated
runs continue the same conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

// usageCmd prints token accounting
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage for the persisted session",
	RunE:  showUsage,
}

// stateCmd groups export/import
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Export or import session state",
}

var stateExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the session state document to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE:  exportState,
}

var stateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Validate a state document and install it as the session state",
	Args:  cobra.ExactArgs(1),
	RunE:  importState,
}

// agentsCmd lists subagents
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List subagents of the persisted session and available presets",
	RunE:  listAgents,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (overrides config and env)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "LLM model (overrides config)")

	stateCmd.AddCommand(stateExportCmd, stateImportCmd)
	rootCmd.AddCommand(runCmd, usageCmd, stateCmd, agentsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(filepath.Join(workspace, config.DefaultPath))
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func statePath() string {
	return filepath.Join(workspace, ".reagent", "state.json")
}

func loadStateDocument() (agent.Document, bool, error) {
	data, err := os.ReadFile(statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return agent.Document{}, false, nil
		}
		return agent.Document{}, false, fmt.Errorf("reading session state: %w", err)
	}
	doc, err := agent.UnmarshalState(data)
	if err != nil {
		return agent.Document{}, false, err
	}
	return doc, true, nil
}

func saveStateDocument(doc agent.Document) error {
	data, err := agent.MarshalState(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(statePath()), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return os.WriteFile(statePath(), data, 0o644)
}

// buildAgent assembles the full stack: Gemini engine, tool registry,
// durable usage store, preset subagents, persisted session state.
func buildAgent(ctx context.Context, cfg *config.Config) (*agent.Agent, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured (set REAGENT_API_KEY, llm.api_key, or --api-key)")
	}
	engine, err := llm.New(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, workspace)

	var store *usage.Store
	if cfg.Usage.DatabasePath != "" {
		store, err = usage.OpenStore(filepath.Join(workspace, cfg.Usage.DatabasePath))
		if err != nil {
			return nil, err
		}
	}

	ag, err := agent.New(agent.Options{
		SystemPrompt:  "You are reagent, a careful engineering assistant working inside the user's workspace.",
		Window:        cfg.Context,
		Engine:        engine,
		Executor:      registry,
		Summarizer:    engine,
		Store:         store,
		MaxTurns:      cfg.Agents.MaxTurns,
		SubagentLimit: cfg.Agents.MaxActive,
	})
	if err != nil {
		return nil, err
	}

	if doc, ok, err := loadStateDocument(); err != nil {
		return nil, err
	} else if ok {
		if err := ag.ImportState(doc); err != nil {
			return nil, fmt.Errorf("restoring session: %w", err)
		}
	}

	if cfg.Agents.PresetDir != "" {
		dir := filepath.Join(workspace, cfg.Agents.PresetDir)
		if _, err := ag.Spawner().LoadPresets(dir); err != nil {
			logging.Get(logging.CategoryBoot).Warnf("loading presets: %v", err)
		}
	}
	return ag, nil
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	watcher, err := config.WatchLogging(workspace, filepath.Join(workspace, config.DefaultPath))
	if err != nil {
		logging.Get(logging.CategoryBoot).Warnf("config watcher unavailable, logging hot-reload disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx := cmd.Context()
	ag, err := buildAgent(ctx, cfg)
	if err != nil {
		return err
	}

	answer, err := ag.Run(ctx, strings.Join(args, " "))
	if err != nil {
		var overflow *actx.OverflowError
		if errors.As(err, &overflow) {
			return fmt.Errorf("context window exhausted even after compaction (%d > %d tokens); raise context.max_tokens or lower the summary budget: %w",
				overflow.TotalTokens, overflow.MaxTokens, err)
		}
		return err
	}

	fmt.Println(answer)
	if verbose {
		fmt.Println()
		fmt.Println(ag.UsageSummary())
	}
	return saveStateDocument(ag.ExportState())
}

func showUsage(cmd *cobra.Command, args []string) error {
	doc, ok, err := loadStateDocument()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No session state found. Run a task first.")
		return nil
	}

	fmt.Printf("Agent %s\n", doc.AgentID)
	fmt.Printf("  prompt tokens:     %d\n", doc.Usage.TotalPromptTokens)
	fmt.Printf("  completion tokens: %d\n", doc.Usage.TotalCompletionTokens)
	fmt.Printf("  interactions:      %d\n", len(doc.Usage.History))

	combined := doc.Usage.TotalPromptTokens + doc.Usage.TotalCompletionTokens
	for _, sub := range doc.Subagents {
		subTotal := sub.Usage.TotalPromptTokens + sub.Usage.TotalCompletionTokens
		combined += subTotal
		fmt.Printf("  subagent %-16s %s  %d tokens\n", sub.Name, sub.Status, subTotal)
	}
	fmt.Printf("  combined total:    %d tokens\n", combined)
	return nil
}

func exportState(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no session state to export")
		}
		return err
	}
	if len(args) == 0 {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(args[0], data, 0o644)
}

func importState(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	doc, err := agent.UnmarshalState(data)
	if err != nil {
		return err
	}
	if err := agent.ValidateDocument(doc); err != nil {
		return fmt.Errorf("rejecting state document: %w", err)
	}
	if err := saveStateDocument(doc); err != nil {
		return err
	}
	fmt.Printf("Imported session %s (%d messages, %d subagents)\n",
		doc.AgentID, len(doc.Context.Messages), len(doc.Subagents))
	return nil
}

func listAgents(cmd *cobra.Command, args []string) error {
	doc, ok, err := loadStateDocument()
	if err != nil {
		return err
	}
	if ok && len(doc.Subagents) > 0 {
		fmt.Println("Subagents:")
		for _, sub := range doc.Subagents {
			fmt.Printf("  %-16s %-10s %d messages, window %d\n",
				sub.Name, sub.Status, len(sub.Context.Messages), sub.Context.MaxTokens)
		}
	} else {
		fmt.Println("No subagents in the current session.")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := filepath.Join(workspace, cfg.Agents.PresetDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yaml" {
			names = append(names, e.Name())
		}
	}
	if len(names) > 0 {
		fmt.Println("\nPresets:")
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}
	}
	return nil
}
