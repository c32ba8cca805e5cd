// Package config provides configuration loading for draftd.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/draftd/internal/logging"
)

// Config is the root configuration for draftd.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Context    ContextConfig    `koanf:"context"`
	Generation GenerationConfig `koanf:"generation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds chunk index storage configuration.
type StoreConfig struct {
	// Path is the directory for the SQLite database.
	// Default: "~/.config/draftd/data"
	Path string `koanf:"path"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is the provider type: "fastembed" or "openai".
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// BaseURL is the remote API URL (openai provider only).
	BaseURL string `koanf:"base_url"`
	// APIKey authenticates against the remote API (openai provider only).
	APIKey Secret `koanf:"api_key"`
	// CacheDir is the model cache directory (fastembed provider only).
	CacheDir string `koanf:"cache_dir"`
}

// RetrievalConfig controls chunking and similarity search.
type RetrievalConfig struct {
	// ChunkSize is the chunk window size in runes.
	ChunkSize int `koanf:"chunk_size"`
	// ChunkOverlap is the redundancy between adjacent windows in runes.
	ChunkOverlap int `koanf:"chunk_overlap"`
	// MinChunkLength discards chunks whose trimmed text is shorter.
	MinChunkLength int `koanf:"min_chunk_length"`
	// SearchLimit is the number of chunk matches retrieved per query.
	SearchLimit int `koanf:"search_limit"`
	// MaxDistance excludes matches with cosine distance above the ceiling.
	MaxDistance float32 `koanf:"max_distance"`
}

// ContextConfig controls working-context assembly.
type ContextConfig struct {
	// TokenBudget bounds the assembled context, estimated at 4 chars/token.
	TokenBudget int `koanf:"token_budget"`
	// MaxDocuments bounds the number of documents included.
	MaxDocuments int `koanf:"max_documents"`
	// SmallFileLines is the line count below which a document is included whole.
	SmallFileLines int `koanf:"small_file_lines"`
	// PadLines is the context padding around each matched chunk's lines.
	PadLines int `koanf:"pad_lines"`
	// MergeSlackLines merges excerpt ranges separated by a smaller gap.
	MergeSlackLines int `koanf:"merge_slack_lines"`
}

// GenerationConfig holds upstream model provider configuration.
type GenerationConfig struct {
	// Provider selects the upstream: "openai" or "anthropic".
	Provider string `koanf:"provider"`
	// Model is the completion model name.
	Model string `koanf:"model"`
	// MaxTokens caps the completion length.
	MaxTokens int `koanf:"max_tokens"`
	// Temperature is the sampling temperature (openai only).
	Temperature float32 `koanf:"temperature"`

	OpenAIBaseURL    string `koanf:"openai_base_url"`
	AnthropicBaseURL string `koanf:"anthropic_base_url"`
	OpenAIKey        Secret `koanf:"openai_api_key"`
	AnthropicKey     Secret `koanf:"anthropic_api_key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "draftd"}
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/draftd/data"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = defaultEmbeddingModel(cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}

	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 1000
	}
	if cfg.Retrieval.ChunkOverlap == 0 {
		cfg.Retrieval.ChunkOverlap = 200
	}
	if cfg.Retrieval.MinChunkLength == 0 {
		cfg.Retrieval.MinChunkLength = 10
	}
	if cfg.Retrieval.SearchLimit == 0 {
		cfg.Retrieval.SearchLimit = 5
	}
	if cfg.Retrieval.MaxDistance == 0 {
		cfg.Retrieval.MaxDistance = 0.75
	}

	if cfg.Context.TokenBudget == 0 {
		cfg.Context.TokenBudget = 8000
	}
	if cfg.Context.MaxDocuments == 0 {
		cfg.Context.MaxDocuments = 5
	}
	if cfg.Context.SmallFileLines == 0 {
		cfg.Context.SmallFileLines = 100
	}
	if cfg.Context.PadLines == 0 {
		cfg.Context.PadLines = 50
	}
	if cfg.Context.MergeSlackLines == 0 {
		cfg.Context.MergeSlackLines = 10
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = DefaultGenerationModel(cfg.Generation.Provider)
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1500
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.OpenAIBaseURL == "" {
		cfg.Generation.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.Generation.AnthropicBaseURL == "" {
		cfg.Generation.AnthropicBaseURL = "https://api.anthropic.com/v1"
	}
	if !cfg.Generation.OpenAIKey.IsSet() {
		cfg.Generation.OpenAIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if !cfg.Generation.AnthropicKey.IsSet() {
		cfg.Generation.AnthropicKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}
}

func defaultEmbeddingModel(provider string) string {
	if provider == "openai" {
		return "text-embedding-3-small"
	}
	return "BAAI/bge-small-en-v1.5"
}

// DefaultGenerationModel returns the stock completion model for a provider.
// Also used when a request overrides the provider without naming a model.
func DefaultGenerationModel(provider string) string {
	if provider == "anthropic" {
		return "claude-3-5-haiku-latest"
	}
	return "gpt-4o-mini"
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in (0, 65535], got %d", c.Server.Port)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "openai":
	default:
		return fmt.Errorf("embeddings provider must be 'fastembed' or 'openai', got %q", c.Embeddings.Provider)
	}

	switch c.Generation.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("generation provider must be 'openai' or 'anthropic', got %q", c.Generation.Provider)
	}

	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Retrieval.ChunkSize)
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, chunk size), got %d", c.Retrieval.ChunkOverlap)
	}
	if c.Retrieval.MaxDistance <= 0 || c.Retrieval.MaxDistance > 2 {
		return fmt.Errorf("max distance must be in (0, 2], got %v", c.Retrieval.MaxDistance)
	}

	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("token budget must be positive, got %d", c.Context.TokenBudget)
	}
	if c.Context.MaxDocuments <= 0 {
		return fmt.Errorf("max documents must be positive, got %d", c.Context.MaxDocuments)
	}

	return nil
}
