package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.Equal(t, 0.5, cfg.Search.LexicalWeight)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.DebounceWindow)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Chunking, cfg.Chunking)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	// Given: a config file setting only the debounce window
	dir := t.TempDir()
	content := "watch:\n  debounce_window: 2s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	// When: loading from the repository root
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: the explicit value wins, everything else defaults
	assert.Equal(t, 2*time.Second, cfg.Watch.DebounceWindow)
	assert.Equal(t, Default().Search.MaxResults, cfg.Search.MaxResults)
	assert.Equal(t, Default().Chunking.WindowLines, cfg.Chunking.WindowLines)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CODESCOUT_DEBOUNCE_WINDOW", "250ms")
	t.Setenv("CODESCOUT_TRANSIENT", "true")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Watch.DebounceWindow)
	assert.True(t, cfg.Storage.Transient)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -0.1 }},
		{"zero weights", func(c *Config) { c.Search.VectorWeight = 0; c.Search.LexicalWeight = 0 }},
		{"penalty out of range", func(c *Config) { c.Search.SingleChannelPenalty = 1.0 }},
		{"overlap >= window", func(c *Config) { c.Chunking.OverlapLines = 120; c.Chunking.WindowLines = 120 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "mystery" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("search: [oops"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
