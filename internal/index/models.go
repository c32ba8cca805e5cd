package index

import (
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Project groups documents and chat history under shared instructions.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Document is an uploaded source file belonging to a project.
type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is one overlapping window of a document's text. The set of chunks
// for a document is fully replaced whenever the document's content changes.
type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Index      int    `json:"index"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	WordCount  int    `json:"word_count"`

	// Vector is the chunk's embedding, nil when embedding failed. A chunk
	// without a vector is excluded from search but still reconstructs the
	// document.
	Vector    []float32 `json:"-"`
	ModelName string    `json:"-"`
}

// ChunkMatch is one similarity search hit. Query-scoped, never persisted.
type ChunkMatch struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity"`
	Index      int     `json:"index"`
	StartChar  int     `json:"start_char"`
	EndChar    int     `json:"end_char"`
}

// Message is one chat history entry. Messages belong to a thread; a
// project may hold several threads, and the project ID doubles as the
// default thread for clients that never create one explicitly.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
