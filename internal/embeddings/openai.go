package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
)

var openaiTracer = otel.Tracer("draftd.embeddings.openai")

// openAIDimensions maps model names to their vector dimensions.
var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider embeds text through the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	logger    *zap.Logger
	closed    atomic.Bool
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a remote embedding provider.
func NewOpenAIProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai embeddings: api key not set")
	}

	dim, ok := openAIDimensions[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("openai embeddings: unknown model %q", cfg.Model)
	}

	return &OpenAIProvider{
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey.Value(),
		model:     cfg.Model,
		dimension: dim,
		logger:    logger.Named("embeddings.openai"),
	}, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EmbedDocuments implements Provider.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := openaiTracer.Start(ctx, "embeddings.EmbedDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("embeddings.model", p.model),
		attribute.Int("embeddings.batch_size", len(texts)),
	)

	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery implements Provider.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := openaiTracer.Start(ctx, "embeddings.EmbedQuery")
	defer span.End()

	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if text == "" {
		return nil, ErrEmptyInput
	}

	vectors, err := p.embed(ctx, []string{text})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vectors[0], nil
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("embeddings api: %s (%s)", parsed.Error.Message, parsed.Error.Type)
		}
		return nil, fmt.Errorf("embeddings api: status %d", resp.StatusCode)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings api: got %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// The API may return entries out of order; index is authoritative.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings api: index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embeddings api: missing vector for input %d", i)
		}
	}

	p.logger.Debug("embedded batch",
		zap.Int("count", len(texts)),
		zap.String("model", p.model))

	return vectors, nil
}

// Dimension implements Provider.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Model implements Provider.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Close implements Provider.
func (p *OpenAIProvider) Close() error {
	p.closed.Store(true)
	p.client.CloseIdleConnections()
	return nil
}
