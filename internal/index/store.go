// Package index persists documents, chunks and embeddings in SQLite and
// serves cosine-similarity search over them.
package index

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/draftd/internal/index/migrations"
)

// Store is the SQLite-backed chunk index.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewStore opens (or creates) the SQLite database under dataDir and runs
// pending migrations.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "draftd.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		logger: logger.Named("index.store"),
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CreateProject stores a new project.
func (s *Store) CreateProject(ctx context.Context, name, instructions string) (*Project, error) {
	now := time.Now().UTC()
	p := &Project{
		ID:           uuid.NewString(),
		Name:         name,
		Instructions: instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, instructions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Instructions, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

// Project retrieves a project by ID.
func (s *Store) Project(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, instructions, created_at, updated_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Instructions, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return &p, nil
}

// Projects lists all projects ordered by creation time.
func (s *Store) Projects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, instructions, created_at, updated_at
		FROM projects ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Instructions, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateInstructions replaces a project's instructions.
func (s *Store) UpdateInstructions(ctx context.Context, id, instructions string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET instructions = ?, updated_at = ? WHERE id = ?
	`, instructions, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating instructions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating instructions: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveDocument inserts or replaces a document identified by (project,
// filename). The returned document carries the stored ID, which is stable
// across content updates.
func (s *Store) SaveDocument(ctx context.Context, projectID, filename, content string) (*Document, error) {
	now := time.Now().UTC()
	doc := &Document{
		ProjectID: projectID,
		Filename:  filename,
		Content:   content,
		WordCount: len(strings.Fields(content)),
		UpdatedAt: now,
	}

	var existingID string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM documents WHERE project_id = ? AND filename = ?
	`, projectID, filename).Scan(&existingID, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		doc.ID = uuid.NewString()
		doc.CreatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (id, project_id, filename, content, word_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.ProjectID, doc.Filename, doc.Content, doc.WordCount, doc.CreatedAt, doc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting document: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("looking up document: %w", err)
	default:
		doc.ID = existingID
		doc.CreatedAt = createdAt
		_, err = s.db.ExecContext(ctx, `
			UPDATE documents SET content = ?, word_count = ?, updated_at = ? WHERE id = ?
		`, doc.Content, doc.WordCount, doc.UpdatedAt, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("updating document: %w", err)
		}
	}

	return doc, nil
}

// Document retrieves a document by ID.
func (s *Store) Document(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, filename, content, word_count, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.ProjectID, &doc.Filename, &doc.Content, &doc.WordCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return &doc, nil
}

// DocumentsByProject lists a project's documents ordered by filename.
func (s *Store) DocumentsByProject(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, filename, content, word_count, created_at, updated_at
		FROM documents WHERE project_id = ? ORDER BY filename
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Filename, &doc.Content,
			&doc.WordCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document. Chunks and embeddings cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReplaceChunks atomically swaps a document's chunk set. Readers observe
// either the old set or the new set, never a partial state.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (document_id, text, chunk_index, start_char, end_char, word_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	embedStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, vector, model_name)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing embedding insert: %w", err)
	}
	defer embedStmt.Close()

	for _, c := range chunks {
		res, err := chunkStmt.ExecContext(ctx, documentID, c.Text, c.Index, c.StartChar, c.EndChar, c.WordCount)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
		if c.Vector == nil {
			continue
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading chunk id: %w", err)
		}
		if _, err := embedStmt.ExecContext(ctx, chunkID, float32SliceToBytes(c.Vector), c.ModelName); err != nil {
			return fmt.Errorf("inserting embedding for chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ChunksByDocument returns a document's chunks ordered by index, with
// vectors attached where present.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.text, c.chunk_index, c.start_char, c.end_char, c.word_count,
		       e.vector, e.model_name
		FROM document_chunks c
		LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id
		WHERE c.document_id = ?
		ORDER BY c.chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var vector []byte
		var modelName sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Index, &c.StartChar, &c.EndChar,
			&c.WordCount, &vector, &modelName); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Vector = bytesToFloat32Slice(vector)
		c.ModelName = modelName.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchByVector returns up to limit chunks from the project's documents
// whose cosine distance to the query vector is below maxDistance, ordered
// by descending similarity with ties broken by ascending chunk ID. An empty
// result is not an error.
func (s *Store) SearchByVector(ctx context.Context, projectID string, query []float32, limit int, maxDistance float32) ([]ChunkMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.filename, c.text, c.chunk_index, c.start_char, c.end_char, e.vector
		FROM document_chunks c
		JOIN chunk_embeddings e ON e.chunk_id = c.id
		JOIN documents d ON d.id = c.document_id
		WHERE d.project_id = ?
		ORDER BY c.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading embedded chunks: %w", err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		var vector []byte
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Filename, &m.Text,
			&m.Index, &m.StartChar, &m.EndChar, &vector); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}

		sim, ok := cosineSimilarity(query, bytesToFloat32Slice(vector))
		if !ok {
			// Dimension mismatch, usually a stale embedding from another model.
			continue
		}
		if 1-sim >= maxDistance {
			continue
		}
		m.Similarity = sim
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// SaveMessage appends a chat message to a thread's history.
func (s *Store) SaveMessage(ctx context.Context, projectID, threadID, role, content string) (*Message, error) {
	m := &Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, project_id, thread_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ProjectID, m.ThreadID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}
	return m, nil
}

// History returns the most recent limit messages for a thread in
// chronological order.
func (s *Store) History(ctx context.Context, threadID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, thread_id, role, content, created_at
		FROM (
			SELECT rowid, id, project_id, thread_id, role, content, created_at
			FROM messages WHERE thread_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)
		ORDER BY created_at, rowid
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// cosineSimilarity returns the cosine of the angle between a and b. The
// second return is false when the vectors cannot be compared.
func cosineSimilarity(a, b []float32) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), true
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
