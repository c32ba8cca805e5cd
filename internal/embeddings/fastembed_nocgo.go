//go:build !cgo

package embeddings

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without CGO.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (built without CGO, use the openai provider)")

// FastEmbedProvider is a stub for non-CGO builds.
type FastEmbedProvider struct{}

var _ Provider = (*FastEmbedProvider)(nil)

// NewFastEmbedProvider returns an error when CGO is not available.
func NewFastEmbedProvider(_ config.EmbeddingsConfig, _ *zap.Logger) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) Dimension() int {
	return 0
}

func (p *FastEmbedProvider) Model() string {
	return ""
}

func (p *FastEmbedProvider) Close() error {
	return nil
}
