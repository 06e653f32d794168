// Package logging provides categorized file-based logging for reagent.
// Logs are written to .reagent/logs/ with a separate file per category.
// Logging is controlled by the logging section of .reagent/config.yaml:
// when debug mode is off, every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup and initialization
	CategoryContext Category = "context" // Context manager, compaction
	CategoryTokens  Category = "tokens"  // Token accounting
	CategoryUsage   Category = "usage"   // Usage ledger, rollup
	CategorySession Category = "session" // Subagent lifecycle
	CategoryAPI     Category = "api"     // LLM calls (reasoning, summarization)
	CategoryTools   Category = "tools"   // Tool execution
)

// Options controls logger construction; it mirrors the logging section of
// the config file without importing internal/config (avoids a cycle).
type Options struct {
	DebugMode  bool
	Level      string          // debug, info, warn, error
	Categories map[string]bool // empty means every category enabled
}

var (
	mu       sync.RWMutex
	loggers  = make(map[Category]*zap.SugaredLogger)
	opts     Options
	logsDir  string
	nop      = zap.NewNop().Sugar()
	initDone bool
)

// Initialize sets up per-category file logging under ws/.reagent/logs.
// Safe to call again after a config reload; subsequent Get calls pick up
// the new options.
func Initialize(ws string, o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	loggers = make(map[Category]*zap.SugaredLogger)
	initDone = true

	if !o.DebugMode {
		return nil
	}

	logsDir = filepath.Join(ws, ".reagent", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := getLocked(CategoryBoot)
	boot.Infof("reagent logging initialized (level=%s, dir=%s)", levelFor(o.Level), logsDir)
	return nil
}

// Get returns the logger for a category. Before Initialize, or when the
// category is disabled, the returned logger discards everything.
func Get(cat Category) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return getLocked(cat)
}

func getLocked(cat Category) *zap.SugaredLogger {
	if !initDone || !opts.DebugMode {
		return nop
	}
	if len(opts.Categories) > 0 && !opts.Categories[string(cat)] {
		return nop
	}
	if l, ok := loggers[cat]; ok {
		return l
	}

	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(f),
		levelFor(opts.Level),
	)
	l := zap.New(core).Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

func levelFor(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Convenience helpers for the hot categories.

func Context(format string, args ...interface{}) {
	Get(CategoryContext).Infof(format, args...)
}

func ContextDebug(format string, args ...interface{}) {
	Get(CategoryContext).Debugf(format, args...)
}

func Session(format string, args ...interface{}) {
	Get(CategorySession).Infof(format, args...)
}

func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debugf(format, args...)
}

func Usage(format string, args ...interface{}) {
	Get(CategoryUsage).Infof(format, args...)
}
