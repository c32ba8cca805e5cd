package httpapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/chat"
	"github.com/fyrsmithlabs/draftd/internal/generation"
	"github.com/fyrsmithlabs/draftd/internal/logging"
)

// eventBuffer bounds the outbound event channel so a slow consumer applies
// backpressure to the generating task instead of buffering without limit.
const eventBuffer = 100

// CreateStreamResponse is the response body for POST /api/v1/streams.
type CreateStreamResponse struct {
	StreamID string `json:"stream_id"`
}

func (s *Server) handleCreateStream(c echo.Context) error {
	id, _ := s.registry.Create()
	return c.JSON(http.StatusCreated, CreateStreamResponse{StreamID: id})
}

// CancelStreamResponse is the response body for POST
// /api/v1/streams/:stream_id/cancel.
type CancelStreamResponse struct {
	StreamID  string `json:"stream_id"`
	Cancelled bool   `json:"cancelled"`
}

// handleCancelStream sets the stream's cancellation flag. Cancelling an
// unknown or already-finished stream is a no-op, not an error.
func (s *Server) handleCancelStream(c echo.Context) error {
	id := c.Param("stream_id")
	cancelled := s.registry.Cancel(id)
	return c.JSON(http.StatusOK, CancelStreamResponse{StreamID: id, Cancelled: cancelled})
}

// handleChatStream relays the generation event stream for a previously
// created stream ID as server-sent events. Exactly one generation task runs
// per stream ID; the client always receives a terminal event.
func (s *Server) handleChatStream(c echo.Context) error {
	streamID := c.QueryParam("stream_id")
	q := chat.Query{
		ProjectID: c.QueryParam("project_id"),
		ThreadID:  c.QueryParam("thread_id"),
		Message:   c.QueryParam("message"),
		Provider:  c.QueryParam("provider"),
		Model:     c.QueryParam("model"),
	}
	if streamID == "" || q.ProjectID == "" || q.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "stream_id, project_id and message parameters are required")
	}

	token, ok := s.registry.Token(streamID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown stream")
	}
	defer s.registry.Remove(streamID)

	ctx := logging.WithStreamID(c.Request().Context(), streamID)
	logger := s.logger.With(zap.String("stream_id", streamID), zap.String("project_id", q.ProjectID))

	events := make(chan generation.Event, eventBuffer)
	emit := func(e generation.Event) error {
		select {
		case events <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(events)

		var err error
		if c.QueryParam("rag") == "false" {
			err = s.chat.ProcessChat(ctx, q, token, emit)
		} else {
			err = s.chat.ProcessQuery(ctx, q, token, emit)
		}
		if err != nil {
			logger.Warn("generation task ended early", zap.Error(err))
		}
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	s.metrics.StreamStarted(ctx)
	outcome := "disconnected"
	defer func() { s.metrics.StreamFinished(ctx, outcome) }()

	for e := range events {
		data, err := e.Data()
		if err != nil {
			logger.Error("serializing event", zap.Error(err))
			continue
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug("client disconnected", zap.Error(err))
			return nil
		}
		w.Flush()
		s.metrics.EventSent(ctx, string(e.Type))

		if e.Terminal() {
			outcome = string(e.Type)
			break
		}
	}

	logger.Info("stream finished", zap.String("outcome", outcome))
	return nil
}
