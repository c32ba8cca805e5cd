// Package generation drives upstream model providers and translates their
// heterogeneous streaming wire formats into one normalized event stream.
package generation

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/draftd/internal/assembler"
)

// EventType tags a normalized stream event.
type EventType string

const (
	EventContent   EventType = "content"
	EventCitations EventType = "citations"
	EventStatus    EventType = "status"
	EventError     EventType = "error"
	EventDone      EventType = "done"
	EventCancelled EventType = "cancelled"
)

// Event is the provider-agnostic representation of one increment of
// streamed output. Within a stream, events arrive in generation order:
// Status* -> Citations? -> Content* -> Done|Cancelled|Error.
type Event struct {
	Type      EventType
	Content   string
	Status    string
	Citations []assembler.Citation
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventCancelled, EventError:
		return true
	}
	return false
}

type eventBody struct {
	MessageType string               `json:"message_type"`
	Content     *string              `json:"content,omitempty"`
	Citations   []assembler.Citation `json:"citations,omitempty"`
	Status      *string              `json:"status,omitempty"`
}

// Data renders the event body for the server-push wire protocol: a literal
// sentinel for the terminal Done and Cancelled events, a JSON object for
// everything else.
func (e Event) Data() (string, error) {
	switch e.Type {
	case EventDone:
		return "[DONE]", nil
	case EventCancelled:
		return "[CANCELLED]", nil
	}

	body := eventBody{MessageType: string(e.Type)}
	switch e.Type {
	case EventContent:
		body.Content = &e.Content
	case EventError:
		body.Content = &e.Content
	case EventStatus:
		body.Status = &e.Status
	case EventCitations:
		body.Citations = e.Citations
	default:
		return "", fmt.Errorf("unknown event type %q", e.Type)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// ContentEvent builds a content event.
func ContentEvent(text string) Event {
	return Event{Type: EventContent, Content: text}
}

// StatusEvent builds a status event.
func StatusEvent(status string) Event {
	return Event{Type: EventStatus, Status: status}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Content: message}
}

// CitationsEvent builds a citations event.
func CitationsEvent(citations []assembler.Citation) Event {
	return Event{Type: EventCitations, Citations: citations}
}
