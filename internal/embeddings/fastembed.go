//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
)

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                  fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                       fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                   fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                        fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// FastEmbedProvider embeds text with local ONNX models via fastembed.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	logger    *zap.Logger
	mu        sync.RWMutex
}

var _ Provider = (*FastEmbedProvider)(nil)

// NewFastEmbedProvider creates a local embedding provider. Model files are
// downloaded on first use and cached under cfg.CacheDir.
func NewFastEmbedProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (*FastEmbedProvider, error) {
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("fastembed: unsupported model %q", cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("fastembed: resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache", "draftd", "models")
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("fastembed: init: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: modelDimensions[model],
		logger:    logger.Named("embeddings.fastembed"),
	}, nil
}

// EmbedDocuments implements Provider. BGE models expect the "passage: "
// prefix on document texts; PassageEmbed adds it.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("fastembed: embed documents: %w", err)
	}
	return vectors, nil
}

// EmbedQuery implements Provider. QueryEmbed adds the "query: " prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("fastembed: embed query: %w", err)
	}
	return vector, nil
}

// Dimension implements Provider.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Model implements Provider.
func (p *FastEmbedProvider) Model() string {
	return p.modelName
}

// Close implements Provider.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}
