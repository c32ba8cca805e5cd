package generation

import (
	"encoding/json"
	"strings"
)

// Framing translates one provider's raw stream increment into normalized
// events. Implementations are stateless; the driver owns all control flow.
type Framing interface {
	// ParseIncrement parses one raw chunk of the provider stream, which
	// may span several wire lines. A returned Done event marks the
	// provider's stream-finished sentinel.
	ParseIncrement(data []byte) []Event
}

// openaiFraming parses the OpenAI chat-completions stream: `data: ` lines
// carrying chunk objects, terminated by a literal `data: [DONE]`.
type openaiFraming struct{}

var _ Framing = openaiFraming{}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (openaiFraming) ParseIncrement(data []byte) []Event {
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
			events = append(events, Event{Type: EventDone})
			continue
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err == nil && len(chunk.Choices) > 0 {
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != nil && *choice.Delta.Content != "" {
					events = append(events, ContentEvent(*choice.Delta.Content))
				}
			}
			continue
		}

		if text, ok := extractJSONString(payload, "content"); ok && text != "" {
			events = append(events, ContentEvent(text))
		}
	}
	return events
}

// anthropicFraming parses the Anthropic messages stream: named SSE events
// where delta text arrives in `data: ` lines and `event: message_stop`
// terminates the stream.
type anthropicFraming struct{}

var _ Framing = anthropicFraming{}

type anthropicChunk struct {
	Delta struct {
		Text *string `json:"text"`
	} `json:"delta"`
}

func (anthropicFraming) ParseIncrement(data []byte) []Event {
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)

		if line == "event: message_stop" {
			events = append(events, Event{Type: EventDone})
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var chunk anthropicChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err == nil {
			if chunk.Delta.Text != nil && *chunk.Delta.Text != "" {
				events = append(events, ContentEvent(*chunk.Delta.Text))
			}
			continue
		}

		if text, ok := extractJSONString(payload, "text"); ok && text != "" {
			events = append(events, ContentEvent(text))
		}
	}
	return events
}
