// Package config loads and validates the TOML configuration file.
// Missing file or missing keys fall back to defaults, so a fresh
// install works with no configuration at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Provider names accepted in the embedding and llm sections.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config is the full application configuration.
type Config struct {
	// DataDir is where the database lives (default: ~/.pagelore/data).
	DataDir string `toml:"data_dir"`

	Chunking  ChunkingConfig  `toml:"chunking"`
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Spool     SpoolConfig     `toml:"spool"`
}

// ChunkingConfig controls how documents are split.
type ChunkingConfig struct {
	// TargetSize is the chunk size in runes.
	TargetSize int `toml:"target_size"`

	// Overlap is the number of runes shared between adjacent chunks.
	Overlap int `toml:"overlap"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `toml:"provider"`

	// Model is the embedding model name; empty uses the provider default.
	Model string `toml:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `toml:"base_url"`

	// APIKey for hosted providers. The OPENAI_API_KEY environment
	// variable takes precedence when set.
	APIKey string `toml:"api_key"`

	// Dimensions overrides the vector size where the model supports it.
	Dimensions int `toml:"dimensions"`

	// BatchSize bounds texts per embedding request.
	BatchSize int `toml:"batch_size"`

	// MaxAttempts is the retry budget per request.
	MaxAttempts int `toml:"max_attempts"`

	// RequestsPerSecond throttles embedding calls. Zero is unlimited.
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// Concurrency bounds parallel embedding requests.
	Concurrency int `toml:"concurrency"`
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `toml:"provider"`

	// Model is the completion model name; empty uses the provider default.
	Model string `toml:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `toml:"base_url"`

	// APIKey for hosted providers. The OPENAI_API_KEY environment
	// variable takes precedence when set.
	APIKey string `toml:"api_key"`

	// MaxTokens bounds answer length.
	MaxTokens int `toml:"max_tokens"`

	// Temperature controls generation randomness.
	Temperature float64 `toml:"temperature"`
}

// RetrievalConfig tunes similarity search.
type RetrievalConfig struct {
	// TopK is the default number of chunks to retrieve.
	TopK int `toml:"top_k"`

	// MinSimilarity drops results scoring below it.
	MinSimilarity float64 `toml:"min_similarity"`

	// MergeOverlapRatio merges adjacent chunks overlapping beyond it.
	MergeOverlapRatio float64 `toml:"merge_overlap_ratio"`
}

// SynthesisConfig tunes answer generation.
type SynthesisConfig struct {
	// MaxContextChars bounds the evidence passed to the model.
	MaxContextChars int `toml:"max_context_chars"`

	// Summaries enables document summarisation after ingest.
	Summaries bool `toml:"summaries"`
}

// SpoolConfig configures the drop-folder watcher.
type SpoolConfig struct {
	// Dir is the watched directory (default: ~/.pagelore/spool).
	Dir string `toml:"dir"`

	// DebounceMillis is how long a file must be quiet before it is
	// picked up, absorbing partial writes.
	DebounceMillis int `toml:"debounce_ms"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Chunking: ChunkingConfig{
			TargetSize: 2500,
			Overlap:    200,
		},
		Embedding: EmbeddingConfig{
			Provider:    ProviderOllama,
			BatchSize:   64,
			MaxAttempts: 3,
			Concurrency: 4,
		},
		LLM: LLMConfig{
			Provider:    ProviderOllama,
			MaxTokens:   500,
			Temperature: 0.3,
		},
		Retrieval: RetrievalConfig{
			TopK:              5,
			MinSimilarity:     0.25,
			MergeOverlapRatio: 0.5,
		},
		Synthesis: SynthesisConfig{
			MaxContextChars: 12000,
			Summaries:       true,
		},
		Spool: SpoolConfig{
			DebounceMillis: 500,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".pagelore", "config.toml"), nil
}

// Load reads the config file at path, filling unset values with
// defaults. An empty path uses DefaultPath; a missing file is not an
// error.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunking.TargetSize <= 0 {
		return fmt.Errorf("chunking.target_size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.TargetSize {
		return fmt.Errorf("chunking.overlap must be in [0, target_size)")
	}
	if c.Embedding.Provider != ProviderOpenAI && c.Embedding.Provider != ProviderOllama {
		return fmt.Errorf("embedding.provider must be %q or %q", ProviderOpenAI, ProviderOllama)
	}
	if c.LLM.Provider != ProviderOpenAI && c.LLM.Provider != ProviderOllama {
		return fmt.Errorf("llm.provider must be %q or %q", ProviderOpenAI, ProviderOllama)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity must be in [0, 1]")
	}
	if c.Synthesis.MaxContextChars <= 0 {
		return fmt.Errorf("synthesis.max_context_chars must be positive")
	}
	return nil
}

// ResolveAPIKey returns the API key for hosted providers: the
// OPENAI_API_KEY environment variable wins over the config file.
func ResolveAPIKey(fileKey string) string {
	if env := os.Getenv("OPENAI_API_KEY"); env != "" {
		return env
	}
	return fileKey
}

// SpoolDir returns the configured spool directory, defaulting next to
// the data directory.
func (c *Config) SpoolDir() (string, error) {
	if c.Spool.Dir != "" {
		return c.Spool.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".pagelore", "spool"), nil
}
