package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIFraming(t *testing.T) {
	f := openaiFraming{}

	t.Run("delta content", func(t *testing.T) {
		events := f.ParseIncrement([]byte(`data: {"choices":[{"delta":{"content":"Hello"}}]}`))
		require.Len(t, events, 1)
		assert.Equal(t, EventContent, events[0].Type)
		assert.Equal(t, "Hello", events[0].Content)
	})

	t.Run("done sentinel", func(t *testing.T) {
		events := f.ParseIncrement([]byte("data: [DONE]"))
		require.Len(t, events, 1)
		assert.Equal(t, EventDone, events[0].Type)
	})

	t.Run("empty delta produces nothing", func(t *testing.T) {
		events := f.ParseIncrement([]byte(`data: {"choices":[{"delta":{}}]}`))
		assert.Empty(t, events)
	})

	t.Run("multiple lines in one increment", func(t *testing.T) {
		raw := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\ndata: [DONE]"
		events := f.ParseIncrement([]byte(raw))
		require.Len(t, events, 3)
		assert.Equal(t, "a", events[0].Content)
		assert.Equal(t, "b", events[1].Content)
		assert.Equal(t, EventDone, events[2].Type)
	})

	t.Run("malformed payload falls back to scrape", func(t *testing.T) {
		events := f.ParseIncrement([]byte(`data: {"choices":[{"delta":{"content":"scraped"}}],,,broken`))
		require.Len(t, events, 1)
		assert.Equal(t, "scraped", events[0].Content)
	})

	t.Run("non-data lines ignored", func(t *testing.T) {
		assert.Empty(t, f.ParseIncrement([]byte(": keepalive comment")))
	})
}

func TestAnthropicFraming(t *testing.T) {
	f := anthropicFraming{}

	t.Run("delta text", func(t *testing.T) {
		events := f.ParseIncrement([]byte(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`))
		require.Len(t, events, 1)
		assert.Equal(t, EventContent, events[0].Type)
		assert.Equal(t, "Hi", events[0].Content)
	})

	t.Run("message_stop terminates", func(t *testing.T) {
		events := f.ParseIncrement([]byte("event: message_stop"))
		require.Len(t, events, 1)
		assert.Equal(t, EventDone, events[0].Type)
	})

	t.Run("event plus data in one increment", func(t *testing.T) {
		raw := "event: content_block_delta\ndata: {\"delta\":{\"text\":\"chunk\"}}"
		events := f.ParseIncrement([]byte(raw))
		require.Len(t, events, 1)
		assert.Equal(t, "chunk", events[0].Content)
	})

	t.Run("non-delta events produce nothing", func(t *testing.T) {
		assert.Empty(t, f.ParseIncrement([]byte(`data: {"type":"ping"}`)))
		assert.Empty(t, f.ParseIncrement([]byte(`data: {"type":"message_start","message":{}}`)))
	})

	t.Run("malformed payload falls back to scrape", func(t *testing.T) {
		events := f.ParseIncrement([]byte(`data: {"delta":{"text":"rescued"} trailing garbage`))
		require.Len(t, events, 1)
		assert.Equal(t, "rescued", events[0].Content)
	})
}

func TestEventData(t *testing.T) {
	data, err := Event{Type: EventDone}.Data()
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", data)

	data, err = Event{Type: EventCancelled}.Data()
	require.NoError(t, err)
	assert.Equal(t, "[CANCELLED]", data)

	data, err = ContentEvent("hello").Data()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_type":"content","content":"hello"}`, data)

	data, err = StatusEvent("Searching project documents...").Data()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_type":"status","status":"Searching project documents..."}`, data)

	data, err = ErrorEvent("boom").Data()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_type":"error","content":"boom"}`, data)

	_, err = Event{Type: EventType("bogus")}.Data()
	assert.Error(t, err)
}
