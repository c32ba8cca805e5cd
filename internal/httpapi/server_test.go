package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/assembler"
	"github.com/fyrsmithlabs/draftd/internal/chat"
	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/generation"
	"github.com/fyrsmithlabs/draftd/internal/index"
	"github.com/fyrsmithlabs/draftd/internal/stream"
)

type fixedProvider struct{}

func (fixedProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fixedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (fixedProvider) Dimension() int { return 2 }
func (fixedProvider) Model() string  { return "fixed" }
func (fixedProvider) Close() error   { return nil }

type scriptedGenerator struct {
	events []generation.Event
	gotReq generation.Request
}

func (g *scriptedGenerator) Stream(_ context.Context, req generation.Request, token stream.Token, emit func(generation.Event) error) error {
	g.gotReq = req
	if token.Cancelled() {
		return emit(generation.Event{Type: generation.EventCancelled})
	}
	for _, e := range g.events {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

type testServer struct {
	srv   *Server
	store *index.Store
}

func newTestServer(t *testing.T, gen chat.Generator) *testServer {
	t.Helper()

	logger := zap.NewNop()
	store, err := index.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	retrieval := config.RetrievalConfig{
		ChunkSize:      200,
		ChunkOverlap:   40,
		MinChunkLength: 10,
		SearchLimit:    5,
		MaxDistance:    0.75,
	}
	contextCfg := config.ContextConfig{
		TokenBudget:     8000,
		MaxDocuments:    5,
		SmallFileLines:  100,
		PadLines:        50,
		MergeSlackLines: 10,
	}

	indexer := index.NewIndexer(store, fixedProvider{}, retrieval, logger)
	asm := assembler.New(store, contextCfg, logger)
	chatSvc := chat.NewService(indexer, asm, gen, store, logger)

	srv, err := NewServer(chatSvc, indexer, store, stream.NewRegistry(logger), logger, config.ServerConfig{Host: "localhost", Port: 0})
	require.NoError(t, err)

	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createProject(t *testing.T, name string) index.Project {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/projects", `{"name":"`+name+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var p index.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ProjectLifecycle(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})

	p := ts.createProject(t, "docs")

	rec := ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/instructions", `{"instructions":"Be brief."}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/projects", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docs")

	rec = ts.do(t, http.MethodGet, "/api/v1/projects/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/projects", `{"instructions":"no name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DocumentUploadAndSearch(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})
	p := ts.createProject(t, "docs")

	content := strings.Repeat("deployment steps for the service ", 10)
	rec := ts.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/documents",
		`{"filename":"notes.txt","content":"`+content+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc index.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.NotZero(t, doc.WordCount)

	rec = ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/documents", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notes.txt")

	rec = ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/search?q=deployment", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "notes.txt", result.Documents[0].Filename)
	assert.NotZero(t, result.TotalTokens)

	rec = ts.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SearchLimit(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})
	p := ts.createProject(t, "docs")

	for _, name := range []string{"a.txt", "b.txt"} {
		content := strings.Repeat("deployment steps for the service ", 10)
		rec := ts.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/documents",
			`{"filename":"`+name+`","content":"`+content+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/search?q=deployment&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Documents, 1)

	for _, bad := range []string{"abc", "0", "-2"} {
		rec = ts.do(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/search?q=deployment&limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestServer_UploadValidation(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})
	p := ts.createProject(t, "docs")

	rec := ts.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/documents", `{"filename":"a.txt"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/projects/unknown/documents",
		`{"filename":"a.txt","content":"some content"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StreamControls(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})

	rec := ts.do(t, http.MethodPost, "/api/v1/streams", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created CreateStreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.StreamID)

	rec = ts.do(t, http.MethodPost, "/api/v1/streams/"+created.StreamID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelled CancelStreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.True(t, cancelled.Cancelled)

	// Second cancel of the same stream is a no-op, not an error.
	rec = ts.do(t, http.MethodPost, "/api/v1/streams/"+created.StreamID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.False(t, cancelled.Cancelled)
}

func TestServer_ChatStream(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{events: []generation.Event{
		generation.ContentEvent("Hello"),
		generation.ContentEvent(" world"),
		{Type: generation.EventDone},
	}})
	p := ts.createProject(t, "docs")

	rec := ts.do(t, http.MethodPost, "/api/v1/streams", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created CreateStreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodGet,
		"/api/v1/chat/stream?stream_id="+created.StreamID+"&project_id="+p.ID+"&message=hi", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"message_type":"status"`)
	assert.Contains(t, body, `"message_type":"content"`)
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, "data: [DONE]")

	idxStatus := strings.Index(body, `"message_type":"status"`)
	idxContent := strings.Index(body, `"message_type":"content"`)
	idxDone := strings.Index(body, "data: [DONE]")
	assert.Less(t, idxStatus, idxContent)
	assert.Less(t, idxContent, idxDone)
}

func TestServer_ChatStream_ThreadProviderModelParams(t *testing.T) {
	gen := &scriptedGenerator{events: []generation.Event{
		generation.ContentEvent("Hello"),
		{Type: generation.EventDone},
	}}
	ts := newTestServer(t, gen)
	p := ts.createProject(t, "docs")

	rec := ts.do(t, http.MethodPost, "/api/v1/streams", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created CreateStreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodGet,
		"/api/v1/chat/stream?stream_id="+created.StreamID+"&project_id="+p.ID+
			"&message=hi&thread_id=t1&provider=anthropic&model=claude-3-5-sonnet-latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "anthropic", gen.gotReq.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", gen.gotReq.Model)

	// The exchange lands under the requested thread, not the project default.
	msgs, err := ts.store.History(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, p.ID, msgs[0].ProjectID)
	assert.Equal(t, "t1", msgs[0].ThreadID)

	msgs, err = ts.store.History(context.Background(), p.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestServer_ChatStream_UnknownStream(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})
	p := ts.createProject(t, "docs")

	rec := ts.do(t, http.MethodGet,
		"/api/v1/chat/stream?stream_id=never-created&project_id="+p.ID+"&message=hi", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ChatStream_CancelledBeforeOpen(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{events: []generation.Event{
		generation.ContentEvent("should not appear"),
		{Type: generation.EventDone},
	}})
	p := ts.createProject(t, "docs")

	rec := ts.do(t, http.MethodPost, "/api/v1/streams", "")
	var created CreateStreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodPost, "/api/v1/streams/"+created.StreamID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelling removed the registry entry; the stream ID is not reusable.
	rec = ts.do(t, http.MethodGet,
		"/api/v1/chat/stream?stream_id="+created.StreamID+"&project_id="+p.ID+"&message=hi", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ChatStream_MissingParams(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{})

	rec := ts.do(t, http.MethodGet, "/api/v1/chat/stream?stream_id=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
