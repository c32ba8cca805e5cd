package index

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/chunker"
	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/embeddings"
)

var tracer = otel.Tracer("draftd.index")

// Indexer populates and queries the chunk index. It owns the chunking and
// embedding pipeline; the Store owns persistence.
type Indexer struct {
	store    *Store
	provider embeddings.Provider
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// NewIndexer creates an indexer over the given store and embedding provider.
func NewIndexer(store *Store, provider embeddings.Provider, cfg config.RetrievalConfig, logger *zap.Logger) *Indexer {
	return &Indexer{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("index"),
	}
}

// IndexDocument saves the document and rebuilds its chunk set. Chunks whose
// trimmed text is shorter than the configured minimum are discarded. A chunk
// that fails to embed is stored without a vector and logged; it no longer
// participates in search but still reconstructs the document.
func (i *Indexer) IndexDocument(ctx context.Context, projectID, filename, content string) (*Document, error) {
	ctx, span := tracer.Start(ctx, "index.IndexDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.id", projectID),
		attribute.String("document.filename", filename),
	)

	doc, err := i.store.SaveDocument(ctx, projectID, filename, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := i.reindex(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return doc, nil
}

func (i *Indexer) reindex(ctx context.Context, doc *Document) error {
	pieces := chunker.Chunk(doc.Content, i.cfg.ChunkSize, i.cfg.ChunkOverlap)

	chunks := make([]Chunk, 0, len(pieces))
	for idx, p := range pieces {
		if len(strings.TrimSpace(p.Text)) < i.cfg.MinChunkLength {
			continue
		}
		chunks = append(chunks, Chunk{
			DocumentID: doc.ID,
			Text:       p.Text,
			Index:      idx,
			StartChar:  p.Start,
			EndChar:    p.End,
			WordCount:  len(strings.Fields(p.Text)),
		})
	}

	i.embedChunks(ctx, doc, chunks)

	if err := i.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("replacing chunks for %s: %w", doc.Filename, err)
	}

	embedded := 0
	for _, c := range chunks {
		if c.Vector != nil {
			embedded++
		}
	}
	i.logger.Info("reindexed document",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", embedded))

	return nil
}

// embedChunks fills in vectors, batch first and per chunk on batch failure.
// Individual failures leave the chunk's vector nil.
func (i *Indexer) embedChunks(ctx context.Context, doc *Document, chunks []Chunk) {
	if len(chunks) == 0 {
		return
	}

	texts := make([]string, len(chunks))
	for idx, c := range chunks {
		texts[idx] = c.Text
	}

	model := i.provider.Model()

	vectors, err := i.provider.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) == len(chunks) {
		for idx := range chunks {
			chunks[idx].Vector = vectors[idx]
			chunks[idx].ModelName = model
		}
		return
	}

	i.logger.Warn("batch embedding failed, retrying per chunk",
		zap.String("document_id", doc.ID),
		zap.Error(err))

	for idx := range chunks {
		v, err := i.provider.EmbedDocuments(ctx, texts[idx:idx+1])
		if err != nil || len(v) != 1 {
			i.logger.Warn("chunk embedding failed, chunk excluded from search",
				zap.String("document_id", doc.ID),
				zap.Int("chunk_index", chunks[idx].Index),
				zap.Error(err))
			continue
		}
		chunks[idx].Vector = v[0]
		chunks[idx].ModelName = model
	}
}

// Search embeds the query and returns the closest chunks in the project.
// A non-positive limit falls back to the configured search limit.
func (i *Indexer) Search(ctx context.Context, projectID, query string, limit int) ([]ChunkMatch, error) {
	ctx, span := tracer.Start(ctx, "index.Search")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID))

	if limit <= 0 {
		limit = i.cfg.SearchLimit
	}

	vector, err := i.provider.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := i.store.SearchByVector(ctx, projectID, vector, limit, i.cfg.MaxDistance)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("search.matches", len(matches)))
	return matches, nil
}
