package retrieval

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PGStore keeps chunks in Postgres with a pgvector column and ranks by
// cosine distance in SQL.
type PGStore struct {
	DB *sql.DB
}

// UpsertChunk inserts or overwrites the chunk at (document_id, chunk_index).
func (s *PGStore) UpsertChunk(ctx context.Context, c Chunk) error {
	const query = `
INSERT INTO document_chunks (document_id, chunk_index, content, embedding, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (document_id, chunk_index)
DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, updated_at = now()`
	if _, err := s.DB.ExecContext(ctx, query, c.DocumentID, c.Index, c.Text, pgvector.NewVector(c.Vector)); err != nil {
		return fmt.Errorf("upsert chunk doc=%s idx=%d: %w", c.DocumentID, c.Index, err)
	}
	return nil
}

// TopK orders by cosine distance (<=>), so ascending distance is
// descending similarity.
func (s *PGStore) TopK(ctx context.Context, documentID string, query []float32, k int) ([]Chunk, error) {
	if k <= 0 {
		return []Chunk{}, nil
	}
	const stmt = `
SELECT chunk_index, content, embedding, 1 - (embedding <=> $2) AS score
FROM document_chunks
WHERE document_id = $1
ORDER BY embedding <=> $2, chunk_index
LIMIT $3`

	rows, err := s.DB.QueryContext(ctx, stmt, documentID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("top k doc=%s: %w", documentID, err)
	}
	defer rows.Close()

	out := make([]Chunk, 0, k)
	for rows.Next() {
		var c Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.Index, &c.Text, &vec, &c.Score); err != nil {
			return nil, err
		}
		c.DocumentID = documentID
		c.Vector = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Trim deletes chunk rows at or beyond keep.
func (s *PGStore) Trim(ctx context.Context, documentID string, keep int) error {
	const query = `DELETE FROM document_chunks WHERE document_id = $1 AND chunk_index >= $2`
	_, err := s.DB.ExecContext(ctx, query, documentID, keep)
	return err
}

// DeleteByDocument removes every chunk row of documentID.
func (s *PGStore) DeleteByDocument(ctx context.Context, documentID string) error {
	const query = `DELETE FROM document_chunks WHERE document_id = $1`
	_, err := s.DB.ExecContext(ctx, query, documentID)
	return err
}

// Count reports stored chunk rows for documentID.
func (s *PGStore) Count(ctx context.Context, documentID string) (int, error) {
	const query = `SELECT count(*) FROM document_chunks WHERE document_id = $1`
	var n int
	err := s.DB.QueryRowContext(ctx, query, documentID).Scan(&n)
	return n, err
}

var _ Store = (*PGStore)(nil)
