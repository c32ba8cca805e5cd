// Package embeddings provides text embedding providers for the chunk index.
//
// Two providers are supported: a local ONNX provider backed by fastembed
// (no network, models cached on disk) and a remote provider backed by the
// OpenAI embeddings API.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
)

var (
	// ErrEmptyInput indicates no texts were provided for embedding.
	ErrEmptyInput = errors.New("no texts provided")
	// ErrProviderClosed indicates the provider has been closed.
	ErrProviderClosed = errors.New("provider closed")
)

// Provider generates vector embeddings for text.
type Provider interface {
	// EmbedDocuments embeds a batch of document chunks. The result has one
	// vector per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the embedding model name, recorded alongside stored
	// vectors.
	Model() string

	// Close releases provider resources.
	Close() error
}

// NewProvider constructs the provider selected by cfg.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg, logger)
	case "fastembed":
		return NewFastEmbedProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
