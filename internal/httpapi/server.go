// Package httpapi provides the HTTP API for draftd: project and document
// management, similarity search, and the cancellable chat event stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/chat"
	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/index"
	"github.com/fyrsmithlabs/draftd/internal/stream"
)

// Server provides HTTP endpoints for draftd.
type Server struct {
	echo     *echo.Echo
	chat     *chat.Service
	indexer  *index.Indexer
	store    *index.Store
	registry *stream.Registry
	metrics  *StreamMetrics
	logger   *zap.Logger
	config   config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(chatSvc *chat.Service, indexer *index.Indexer, store *index.Store, registry *stream.Registry, logger *zap.Logger, cfg config.ServerConfig) (*Server, error) {
	if chatSvc == nil || indexer == nil || store == nil || registry == nil {
		return nil, fmt.Errorf("all dependencies are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		chat:     chatSvc,
		indexer:  indexer,
		store:    store,
		registry: registry,
		metrics:  NewStreamMetrics(logger),
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/projects", s.handleCreateProject)
	v1.GET("/projects", s.handleListProjects)
	v1.GET("/projects/:project_id", s.handleGetProject)
	v1.PUT("/projects/:project_id/instructions", s.handleUpdateInstructions)

	v1.POST("/projects/:project_id/documents", s.handleUploadDocument)
	v1.GET("/projects/:project_id/documents", s.handleListDocuments)
	v1.DELETE("/documents/:document_id", s.handleDeleteDocument)

	v1.GET("/projects/:project_id/search", s.handleSearch)

	v1.POST("/streams", s.handleCreateStream)
	v1.POST("/streams/:stream_id/cancel", s.handleCancelStream)
	v1.GET("/chat/stream", s.handleChatStream)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateProjectRequest is the request body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	project, err := s.store.CreateProject(c.Request().Context(), req.Name, req.Instructions)
	if err != nil {
		s.logger.Error("creating project", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create project")
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) handleListProjects(c echo.Context) error {
	projects, err := s.store.Projects(c.Request().Context())
	if err != nil {
		s.logger.Error("listing projects", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list projects")
	}
	if projects == nil {
		projects = []index.Project{}
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *Server) handleGetProject(c echo.Context) error {
	project, err := s.store.Project(c.Request().Context(), c.Param("project_id"))
	if errors.Is(err, index.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err != nil {
		s.logger.Error("getting project", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get project")
	}
	return c.JSON(http.StatusOK, project)
}

// UpdateInstructionsRequest is the request body for PUT
// /api/v1/projects/:project_id/instructions.
type UpdateInstructionsRequest struct {
	Instructions string `json:"instructions"`
}

func (s *Server) handleUpdateInstructions(c echo.Context) error {
	var req UpdateInstructionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.store.UpdateInstructions(c.Request().Context(), c.Param("project_id"), req.Instructions)
	if errors.Is(err, index.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err != nil {
		s.logger.Error("updating instructions", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update instructions")
	}
	return c.NoContent(http.StatusNoContent)
}

// UploadDocumentRequest is the request body for POST
// /api/v1/projects/:project_id/documents. Uploading a filename that
// already exists replaces its content and rebuilds its chunk index.
type UploadDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Server) handleUploadDocument(c echo.Context) error {
	var req UploadDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "filename field is required")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	ctx := c.Request().Context()
	projectID := c.Param("project_id")

	if _, err := s.store.Project(ctx, projectID); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		s.logger.Error("getting project", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get project")
	}

	doc, err := s.indexer.IndexDocument(ctx, projectID, req.Filename, req.Content)
	if err != nil {
		s.logger.Error("indexing document",
			zap.String("project_id", projectID),
			zap.String("filename", req.Filename),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to index document")
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.store.DocumentsByProject(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		s.logger.Error("listing documents", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list documents")
	}
	if docs == nil {
		docs = []index.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	err := s.store.DeleteDocument(c.Request().Context(), c.Param("document_id"))
	if errors.Is(err, index.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		s.logger.Error("deleting document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete document")
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchResponse is the response body for GET
// /api/v1/projects/:project_id/search.
type SearchResponse struct {
	Documents   []SearchDocument `json:"documents"`
	TotalTokens int              `json:"total_tokens"`
	Summary     string           `json:"summary,omitempty"`
}

// SearchDocument is one document's entry in a search response.
type SearchDocument struct {
	DocumentID    string  `json:"document_id"`
	Filename      string  `json:"filename"`
	TotalLines    int     `json:"total_lines"`
	PriorityScore float32 `json:"priority_score"`
	Content       string  `json:"content"`
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	wc, err := s.chat.SearchProject(c.Request().Context(), c.Param("project_id"), query, limit)
	if err != nil {
		s.logger.Error("searching project", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	resp := SearchResponse{Documents: []SearchDocument{}, TotalTokens: wc.TotalTokens, Summary: wc.Summary}
	for _, dc := range wc.Documents {
		resp.Documents = append(resp.Documents, SearchDocument{
			DocumentID:    dc.DocumentID,
			Filename:      dc.Filename,
			TotalLines:    dc.TotalLines,
			PriorityScore: dc.PriorityScore,
			Content:       dc.Content,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
