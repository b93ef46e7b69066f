// Package config loads and validates engine configuration.
//
// Precedence, lowest to highest: built-in defaults, then a YAML config file
// (.codescout.yaml in the repository root or an explicit path), then
// CODESCOUT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-repository config file name.
const ConfigFileName = ".codescout.yaml"

// Config is the complete engine configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Search     SearchConfig     `yaml:"search"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Watch      WatchConfig      `yaml:"watch"`
}

// StorageConfig configures index persistence.
type StorageConfig struct {
	// BaseDir is where per-repository index artifacts live.
	// Default: ~/.codescout/indexes
	BaseDir string `yaml:"base_dir"`

	// Transient keeps all index state in memory and skips every save.
	// Used for privacy deployments; state is discarded on exit.
	Transient bool `yaml:"transient"`
}

// SearchConfig configures the fusion ranker.
// The bonus/penalty constants are policy choices with no single correct
// value; they are exposed here for empirical tuning.
type SearchConfig struct {
	// VectorWeight is the weight of the semantic channel (default 0.5).
	VectorWeight float64 `yaml:"vector_weight"`

	// LexicalWeight is the weight of the lexical channel (default 0.5).
	LexicalWeight float64 `yaml:"lexical_weight"`

	// AgreementBonus is added when both channels return the same chunk.
	AgreementBonus float64 `yaml:"agreement_bonus"`

	// SingleChannelPenalty discounts chunks found by only one channel,
	// expressed as a fraction of the channel score (default 0.15).
	SingleChannelPenalty float64 `yaml:"single_channel_penalty"`

	// MaxResults caps top-K regardless of the requested k.
	MaxResults int `yaml:"max_results"`

	// LexicalTimeout bounds the external search subprocess.
	LexicalTimeout time.Duration `yaml:"lexical_timeout"`
}

// ChunkingConfig configures chunk partitioning thresholds, in lines.
type ChunkingConfig struct {
	// MinLines merges structural chunks smaller than this into a neighbor.
	MinLines int `yaml:"min_lines"`

	// MaxLines splits structural chunks larger than this into windows.
	MaxLines int `yaml:"max_lines"`

	// WindowLines is the fallback / split window size.
	WindowLines int `yaml:"window_lines"`

	// OverlapLines is the overlap between adjacent windows.
	OverlapLines int `yaml:"overlap_lines"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "static" (default) or "openai".
	Provider string `yaml:"provider"`

	// Model is the provider-specific model name.
	Model string `yaml:"model"`

	// Dimensions is the embedding dimensionality (provider default if 0).
	Dimensions int `yaml:"dimensions"`

	// BatchSize is the embedding batch size.
	BatchSize int `yaml:"batch_size"`

	// OpenAIBaseURL overrides the OpenAI API endpoint (optional).
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// WatchConfig configures the repository watcher.
type WatchConfig struct {
	// DebounceWindow is how long a file must stay quiet before re-indexing.
	DebounceWindow time.Duration `yaml:"debounce_window"`

	// EventBufferSize is the watcher event channel capacity.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			BaseDir: defaultBaseDir(),
		},
		Search: SearchConfig{
			VectorWeight:         0.5,
			LexicalWeight:        0.5,
			AgreementBonus:       0.1,
			SingleChannelPenalty: 0.15,
			MaxResults:           50,
			LexicalTimeout:       5 * time.Second,
		},
		Chunking: ChunkingConfig{
			MinLines:     5,
			MaxLines:     160,
			WindowLines:  120,
			OverlapLines: 16,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			BatchSize: 32,
		},
		Watch: WatchConfig{
			DebounceWindow:  500 * time.Millisecond,
			EventBufferSize: 1000,
		},
	}
}

// Load reads configuration for a repository root.
// A missing config file is not an error; defaults apply.
func Load(root string) (*Config, error) {
	return LoadFile(filepath.Join(root, ConfigFileName))
}

// LoadFile reads configuration from an explicit path, applying defaults
// for unset fields and environment overrides last.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies CODESCOUT_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("CODESCOUT_BASE_DIR"); v != "" {
		c.Storage.BaseDir = v
	}
	if v := os.Getenv("CODESCOUT_TRANSIENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.Transient = b
		}
	}
	if v := os.Getenv("CODESCOUT_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CODESCOUT_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.VectorWeight = f
		}
	}
	if v := os.Getenv("CODESCOUT_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.LexicalWeight = f
		}
	}
	if v := os.Getenv("CODESCOUT_DEBOUNCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.DebounceWindow = d
		}
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = def.Storage.BaseDir
	}
	if c.Search.VectorWeight == 0 && c.Search.LexicalWeight == 0 {
		c.Search.VectorWeight = def.Search.VectorWeight
		c.Search.LexicalWeight = def.Search.LexicalWeight
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = def.Search.MaxResults
	}
	if c.Search.LexicalTimeout == 0 {
		c.Search.LexicalTimeout = def.Search.LexicalTimeout
	}
	if c.Chunking.MinLines == 0 {
		c.Chunking.MinLines = def.Chunking.MinLines
	}
	if c.Chunking.MaxLines == 0 {
		c.Chunking.MaxLines = def.Chunking.MaxLines
	}
	if c.Chunking.WindowLines == 0 {
		c.Chunking.WindowLines = def.Chunking.WindowLines
	}
	if c.Chunking.OverlapLines == 0 {
		c.Chunking.OverlapLines = def.Chunking.OverlapLines
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = def.Embeddings.Provider
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = def.Embeddings.BatchSize
	}
	if c.Watch.DebounceWindow == 0 {
		c.Watch.DebounceWindow = def.Watch.DebounceWindow
	}
	if c.Watch.EventBufferSize == 0 {
		c.Watch.EventBufferSize = def.Watch.EventBufferSize
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.VectorWeight < 0 || c.Search.LexicalWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Search.VectorWeight+c.Search.LexicalWeight == 0 {
		return fmt.Errorf("at least one search channel must have weight")
	}
	if c.Search.SingleChannelPenalty < 0 || c.Search.SingleChannelPenalty >= 1 {
		return fmt.Errorf("single_channel_penalty must be in [0,1)")
	}
	if c.Chunking.OverlapLines >= c.Chunking.WindowLines {
		return fmt.Errorf("overlap_lines (%d) must be smaller than window_lines (%d)",
			c.Chunking.OverlapLines, c.Chunking.WindowLines)
	}
	if c.Chunking.MinLines > c.Chunking.MaxLines {
		return fmt.Errorf("min_lines (%d) must not exceed max_lines (%d)",
			c.Chunking.MinLines, c.Chunking.MaxLines)
	}
	switch c.Embeddings.Provider {
	case "static", "openai":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embeddings.Provider)
	}
	if c.Watch.DebounceWindow < 0 {
		return fmt.Errorf("debounce_window must be non-negative")
	}
	return nil
}

// defaultBaseDir returns ~/.codescout/indexes, falling back to the
// temp dir when no home directory is available.
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codescout", "indexes")
	}
	return filepath.Join(home, ".codescout", "indexes")
}
