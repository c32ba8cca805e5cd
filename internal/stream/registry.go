package stream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry maps live stream IDs to their cancellation tokens. A stream ID
// is registered before generation starts and removed when the stream
// terminates; IDs are never reused.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]Token
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tokens: make(map[string]Token),
		logger: logger.Named("stream.registry"),
	}
}

// Create registers a fresh stream and returns its ID and token.
func (r *Registry) Create() (string, Token) {
	id := uuid.NewString()
	token := NewToken()

	r.mu.Lock()
	r.tokens[id] = token
	r.mu.Unlock()

	r.logger.Debug("stream registered", zap.String("stream_id", id))
	return id, token
}

// Token returns the token for a live stream.
func (r *Registry) Token(id string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[id]
	return token, ok
}

// Cancel sets the stream's flag and removes it from the registry. The
// stream's task still holds a clone of the token and observes the flag.
// Returns false when the ID is unknown (already finished or never created);
// cancelling such a stream is a no-op, not an error.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	token, ok := r.tokens[id]
	if ok {
		delete(r.tokens, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	token.Cancel()
	r.logger.Info("stream cancelled", zap.String("stream_id", id))
	return true
}

// Remove drops a finished stream without cancelling it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.tokens, id)
	r.mu.Unlock()
}

// Len reports the number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
