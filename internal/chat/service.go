// Package chat orchestrates retrieval-augmented and plain chat queries:
// search, context assembly, prompt construction, generation and history
// persistence.
package chat

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/assembler"
	"github.com/fyrsmithlabs/draftd/internal/generation"
	"github.com/fyrsmithlabs/draftd/internal/index"
	"github.com/fyrsmithlabs/draftd/internal/stream"
)

var tracer = otel.Tracer("draftd.chat")

// historyLimit bounds how many prior turns feed prompt construction.
const historyLimit = 20

// Searcher finds the chunks most similar to a query within a project. A
// non-positive limit means the searcher's configured default.
type Searcher interface {
	Search(ctx context.Context, projectID, query string, limit int) ([]index.ChunkMatch, error)
}

// ContextBuilder packs search matches into a bounded working context.
type ContextBuilder interface {
	Assemble(ctx context.Context, matches []index.ChunkMatch) (*assembler.WorkingContext, error)
}

// Generator streams a completion as normalized events.
type Generator interface {
	Stream(ctx context.Context, req generation.Request, token stream.Token, emit func(generation.Event) error) error
}

// HistoryStore supplies project metadata and conversation history.
type HistoryStore interface {
	Project(ctx context.Context, id string) (*index.Project, error)
	History(ctx context.Context, threadID string, limit int) ([]index.Message, error)
	SaveMessage(ctx context.Context, projectID, threadID, role, content string) (*index.Message, error)
}

// Query is one chat request. ThreadID selects the conversation history;
// when empty the project's default thread (the project ID) is used.
// Provider and Model optionally override the configured upstream.
type Query struct {
	ProjectID string
	ThreadID  string
	Message   string
	Provider  string
	Model     string
}

func (q Query) threadID() string {
	if q.ThreadID != "" {
		return q.ThreadID
	}
	return q.ProjectID
}

// Service is the top-level entry point for chat queries. Constructed once
// at startup and shared; all fields are read-only afterwards.
type Service struct {
	searcher  Searcher
	builder   ContextBuilder
	generator Generator
	store     HistoryStore
	logger    *zap.Logger
}

// NewService creates a chat service.
func NewService(searcher Searcher, builder ContextBuilder, generator Generator, store HistoryStore, logger *zap.Logger) *Service {
	return &Service{
		searcher:  searcher,
		builder:   builder,
		generator: generator,
		store:     store,
		logger:    logger.Named("chat"),
	}
}

// SearchProject assembles the working context for a query without
// generating a response. A non-positive limit uses the configured default.
func (s *Service) SearchProject(ctx context.Context, projectID, query string, limit int) (*assembler.WorkingContext, error) {
	matches, err := s.searcher.Search(ctx, projectID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching project: %w", err)
	}
	return s.builder.Assemble(ctx, matches)
}

// ProcessQuery runs one retrieval-augmented generation: status events,
// search, citations, then streamed content. Every call emits exactly one
// terminal event. The exchange is persisted to history only when the
// stream completes; a cancelled stream's partial text is discarded.
func (s *Service) ProcessQuery(ctx context.Context, q Query, token stream.Token, emit func(generation.Event) error) error {
	ctx, span := tracer.Start(ctx, "chat.ProcessQuery")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", q.ProjectID))

	if token.Cancelled() {
		return emit(generation.Event{Type: generation.EventCancelled})
	}

	if err := emit(generation.StatusEvent("Searching project documents...")); err != nil {
		return err
	}

	matches, err := s.searcher.Search(ctx, q.ProjectID, q.Message, 0)
	if err != nil {
		s.logger.Error("search failed", zap.String("project_id", q.ProjectID), zap.Error(err))
		return emit(generation.ErrorEvent(fmt.Sprintf("Error searching documents: %v", err)))
	}

	wc, err := s.builder.Assemble(ctx, matches)
	if err != nil {
		s.logger.Error("context assembly failed", zap.String("project_id", q.ProjectID), zap.Error(err))
		return emit(generation.ErrorEvent(fmt.Sprintf("Error assembling context: %v", err)))
	}
	span.SetAttributes(
		attribute.Int("chat.context_documents", len(wc.Documents)),
		attribute.Int("chat.context_tokens", wc.TotalTokens),
	)

	if token.Cancelled() {
		return emit(generation.Event{Type: generation.EventCancelled})
	}

	if citations := wc.Citations(); len(citations) > 0 {
		if err := emit(generation.CitationsEvent(citations)); err != nil {
			return err
		}
	}

	instructions := s.projectInstructions(ctx, q.ProjectID)
	system := ragSystemPrompt(instructions, wc.Render())

	return s.generate(ctx, q, system, token, emit)
}

// ProcessChat runs one plain generation without retrieval.
func (s *Service) ProcessChat(ctx context.Context, q Query, token stream.Token, emit func(generation.Event) error) error {
	ctx, span := tracer.Start(ctx, "chat.ProcessChat")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", q.ProjectID))

	if token.Cancelled() {
		return emit(generation.Event{Type: generation.EventCancelled})
	}

	instructions := s.projectInstructions(ctx, q.ProjectID)
	return s.generate(ctx, q, plainSystemPrompt(instructions), token, emit)
}

func (s *Service) projectInstructions(ctx context.Context, projectID string) string {
	project, err := s.store.Project(ctx, projectID)
	if err != nil {
		s.logger.Warn("loading project instructions", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}
	return project.Instructions
}

func (s *Service) generate(ctx context.Context, q Query, system string, token stream.Token, emit func(generation.Event) error) error {
	threadID := q.threadID()
	history, err := s.store.History(ctx, threadID, historyLimit)
	if err != nil {
		s.logger.Warn("loading history", zap.String("thread_id", threadID), zap.Error(err))
	}

	messages := make([]generation.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		messages = append(messages, generation.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, generation.Message{Role: "user", Content: q.Message})

	if err := emit(generation.StatusEvent("Generating response...")); err != nil {
		return err
	}

	req := generation.Request{
		System:   system,
		Messages: messages,
		Provider: q.Provider,
		Model:    q.Model,
	}

	var reply strings.Builder
	completed := false
	err = s.generator.Stream(ctx, req, token, func(e generation.Event) error {
		switch e.Type {
		case generation.EventContent:
			reply.WriteString(e.Content)
		case generation.EventDone:
			completed = true
		}
		return emit(e)
	})
	if err != nil {
		return err
	}

	if completed {
		s.persistExchange(ctx, q.ProjectID, threadID, q.Message, reply.String())
	}
	return nil
}

// persistExchange saves the user turn and the assistant reply. Only called
// for streams that finished; a cancelled stream's accumulated text is not
// final.
func (s *Service) persistExchange(ctx context.Context, projectID, threadID, query, reply string) {
	if _, err := s.store.SaveMessage(ctx, projectID, threadID, "user", query); err != nil {
		s.logger.Error("persisting user message", zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	if reply == "" {
		return
	}
	if _, err := s.store.SaveMessage(ctx, projectID, threadID, "assistant", reply); err != nil {
		s.logger.Error("persisting assistant message", zap.String("thread_id", threadID), zap.Error(err))
	}
}
