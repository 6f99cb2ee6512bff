// Package store holds the chunk index backends. The SQLite backend keeps
// vectors as JSON and scores them in process, which is plenty for a
// single-restaurant corpus; the Qdrant backend offloads similarity search
// to a running Qdrant instance.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/linecook-ai/linecook/pkg/domain"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	content TEXT NOT NULL,
	page INTEGER NOT NULL DEFAULT 0,
	token_offset INTEGER NOT NULL DEFAULT 0,
	vector TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// SQLiteIndex implements domain.ChunkIndex on a local SQLite file.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}
	if _, err := db.Exec(chunkSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init chunk schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Close() error { return s.db.Close() }

// ReplaceChunks swaps a document's chunk set in one transaction, so a
// reindexed document never shows a mix of old and new chunks.
func (s *SQLiteIndex) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, content, page, token_offset, vector)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		vec, _ := json.Marshal(c.Vector)
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Content, c.Page, c.Offset, string(vec)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Search ranks every stored vector by cosine similarity. Chunks indexed
// without a vector (degraded ingest) are skipped here and only reachable
// through SearchKeyword.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float64, topK int) ([]domain.Chunk, error) {
	if len(vector) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, content, page, token_offset, vector FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scored []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		if len(c.Vector) != len(vector) {
			continue
		}
		c.Score = cosine(vector, c.Vector)
		c.Vector = nil
		scored = append(scored, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// SearchKeyword scores chunks by how many query terms they contain.
func (s *SQLiteIndex) SearchKeyword(ctx context.Context, terms []string, topK int) ([]domain.Chunk, error) {
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+strings.ToLower(term)+"%")
	}

	query := fmt.Sprintf(`SELECT id, document_id, content, page, token_offset, vector FROM chunks WHERE %s`,
		strings.Join(clauses, " OR "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scored []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		c.Vector = nil
		lower := strings.ToLower(c.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				hits++
			}
		}
		c.Score = float64(hits) / float64(len(terms))
		scored = append(scored, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *SQLiteIndex) ChunksForDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, page, token_offset, vector FROM chunks
		WHERE document_id = ? ORDER BY page, token_offset`, documentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteIndex) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	return err
}

func scanChunk(rows *sql.Rows) (domain.Chunk, error) {
	var c domain.Chunk
	var vec string
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Page, &c.Offset, &vec); err != nil {
		return c, err
	}
	_ = json.Unmarshal([]byte(vec), &c.Vector)
	return c, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
