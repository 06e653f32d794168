package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "reagent", cfg.Name)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 4096, cfg.Context.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Context.NearLimitThreshold, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
llm:
  model: gemini-2.5-pro
context:
  max_tokens: 8192
  near_limit_threshold: 0.8
  compaction:
    keep_first_n: 3
    keep_last_n: 8
logging:
  debug: true
  level: debug
  categories: [context, usage]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, 8192, cfg.Context.MaxTokens)
	assert.Equal(t, 3, cfg.Context.Compaction.KeepFirstN)
	assert.Equal(t, 8, cfg.Context.Compaction.KeepLastN)

	opts := cfg.Logging.Options()
	assert.True(t, opts.DebugMode)
	assert.True(t, opts.Categories["context"])
	assert.False(t, opts.Categories["session"])
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("REAGENT_API_KEY wins over file and GEMINI key", func(t *testing.T) {
		t.Setenv("REAGENT_API_KEY", "primary")
		t.Setenv("GEMINI_API_KEY", "fallback")

		cfg := DefaultConfig()
		cfg.LLM.APIKey = "from-file"
		cfg.applyEnvOverrides()

		assert.Equal(t, "primary", cfg.LLM.APIKey)
	})

	t.Run("GEMINI_API_KEY fills only an empty key", func(t *testing.T) {
		t.Setenv("REAGENT_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "fallback")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "fallback", cfg.LLM.APIKey)

		cfg = DefaultConfig()
		cfg.LLM.APIKey = "from-file"
		cfg.applyEnvOverrides()
		assert.Equal(t, "from-file", cfg.LLM.APIKey)
	})

	t.Run("REAGENT_DEBUG enables debug logging", func(t *testing.T) {
		t.Setenv("REAGENT_DEBUG", "1")

		cfg := DefaultConfig()
		cfg.Logging.Level = ""
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Logging.Debug)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Context.MaxTokens = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Context.NearLimitThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Context.Compaction.KeepFirstN = -1
	assert.Error(t, bad.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.LLM.Model = "gemini-2.5-pro"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", loaded.LLM.Model)
	assert.Equal(t, cfg.Context, loaded.Context)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()

	cfg := DefaultConfig()
	cfg.Context.MaxTokens = 9000
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-reloaded:
		assert.Equal(t, 9000, got.Context.MaxTokens)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
