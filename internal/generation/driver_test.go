package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/stream"
)

func newTestDriver(t *testing.T, provider string, handler http.HandlerFunc) *Driver {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.GenerationConfig{
		Provider:         provider,
		Model:            "test-model",
		MaxTokens:        100,
		Temperature:      0.7,
		OpenAIBaseURL:    srv.URL,
		AnthropicBaseURL: srv.URL,
		OpenAIKey:        config.Secret("ok-key"),
		AnthropicKey:     config.Secret("ak-key"),
	}

	d, err := NewDriver(cfg, zap.NewNop())
	require.NoError(t, err)
	return d
}

func collectEvents(t *testing.T, d *Driver, token stream.Token) []Event {
	t.Helper()

	var events []Event
	err := d.Stream(context.Background(), Request{
		System:   "system prompt",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, token, func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return events
}

func sseWrite(w http.ResponseWriter, lines ...string) {
	f := w.(http.Flusher)
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n", line)
	}
	f.Flush()
}

func TestDriver_OpenAIStream(t *testing.T) {
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ok-key", r.Header.Get("Authorization"))

		sseWrite(w,
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			"",
			`data: {"choices":[{"delta":{"content":" world"}}]}`,
			"",
			"data: [DONE]",
		)
	})

	events := collectEvents(t, d, stream.NewToken())

	require.Len(t, events, 3)
	assert.Equal(t, "Hello", events[0].Content)
	assert.Equal(t, " world", events[1].Content)
	assert.Equal(t, EventDone, events[2].Type)
}

func TestDriver_AnthropicStream(t *testing.T) {
	d := newTestDriver(t, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		sseWrite(w,
			"event: message_start",
			`data: {"type":"message_start","message":{}}`,
			"",
			"event: content_block_delta",
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Claude says hi"}}`,
			"",
			"event: message_stop",
			`data: {"type":"message_stop"}`,
		)
	})

	events := collectEvents(t, d, stream.NewToken())

	require.Len(t, events, 2)
	assert.Equal(t, "Claude says hi", events[0].Content)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestDriver_CancelledBeforeStart(t *testing.T) {
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upstream request expected after cancellation")
	})

	token := stream.NewToken()
	token.Cancel()

	events := collectEvents(t, d, token)

	require.Len(t, events, 1)
	assert.Equal(t, EventCancelled, events[0].Type)
}

func TestDriver_CancelMidStream(t *testing.T) {
	proceed := make(chan struct{})
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		sseWrite(w, `data: {"choices":[{"delta":{"content":"first"}}]}`)
		<-proceed
		sseWrite(w,
			`data: {"choices":[{"delta":{"content":"second"}}]}`,
			"",
			"data: [DONE]",
		)
	})

	token := stream.NewToken()

	var events []Event
	err := d.Stream(context.Background(), Request{}, token, func(e Event) error {
		events = append(events, e)
		if e.Type == EventContent {
			token.Cancel()
			close(proceed)
		}
		return nil
	})
	require.NoError(t, err)

	// The stream ends in Cancelled and nothing after the cancel carries
	// content.
	require.NotEmpty(t, events)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)
	for _, e := range events[1:] {
		assert.NotEqual(t, EventContent, e.Type)
	}
}

func TestDriver_UpstreamErrorStatus(t *testing.T) {
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	events := collectEvents(t, d, stream.NewToken())

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Content, "429")
}

func TestDriver_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := config.GenerationConfig{
		Provider:      "openai",
		Model:         "test-model",
		OpenAIBaseURL: srv.URL,
		OpenAIKey:     config.Secret("k"),
	}
	d, err := NewDriver(cfg, zap.NewNop())
	require.NoError(t, err)

	var events []Event
	require.NoError(t, d.Stream(context.Background(), Request{}, stream.NewToken(), func(e Event) error {
		events = append(events, e)
		return nil
	}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}

func TestDriver_EOFWithoutSentinelStillTerminates(t *testing.T) {
	d := newTestDriver(t, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		sseWrite(w, `data: {"delta":{"text":"partial"}}`)
		// Connection closes without message_stop.
	})

	events := collectEvents(t, d, stream.NewToken())

	require.Len(t, events, 2)
	assert.Equal(t, "partial", events[0].Content)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestDriver_RequestProviderOverride(t *testing.T) {
	// Configured for OpenAI, but the request asks for Anthropic. The call
	// must use Anthropic framing and that provider's stock model, not the
	// configured OpenAI model.
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak-key", r.Header.Get("x-api-key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, config.DefaultGenerationModel("anthropic"), payload["model"])

		sseWrite(w,
			"event: content_block_delta",
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`,
			"",
			"event: message_stop",
			`data: {"type":"message_stop"}`,
		)
	})

	var events []Event
	err := d.Stream(context.Background(), Request{
		Provider: "anthropic",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, stream.NewToken(), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "hi", events[0].Content)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestDriver_RequestModelOverride(t *testing.T) {
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "gpt-4.1", payload["model"])

		sseWrite(w, "data: [DONE]")
	})

	var events []Event
	err := d.Stream(context.Background(), Request{
		Model:    "gpt-4.1",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, stream.NewToken(), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
}

func TestDriver_UnknownRequestProvider(t *testing.T) {
	d := newTestDriver(t, "openai", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upstream request expected for an unknown provider")
	})

	var events []Event
	err := d.Stream(context.Background(), Request{Provider: "ollama"}, stream.NewToken(), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Content, "ollama")
}

func TestNewDriver_UnknownProvider(t *testing.T) {
	_, err := NewDriver(config.GenerationConfig{Provider: "ollama"}, zap.NewNop())
	assert.Error(t, err)
}
