// Package retrieval stores chunk embeddings and answers top-K similarity
// queries scoped to one document.
package retrieval

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a query vector does not match the
// stored vectors' dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Chunk is one embedded slice of a document.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Vector     []float32
	// Score is the similarity to the query; only set by TopK.
	Score float64
}

// Store persists chunks keyed by (DocumentID, Index). Upserting an
// existing key overwrites it.
type Store interface {
	UpsertChunk(ctx context.Context, c Chunk) error
	// TopK returns at most k chunks of documentID ordered by descending
	// similarity, ties broken by ascending index.
	TopK(ctx context.Context, documentID string, query []float32, k int) ([]Chunk, error)
	// Trim removes chunks with Index >= keep, left over from a longer
	// earlier run over the same document.
	Trim(ctx context.Context, documentID string, keep int) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context, documentID string) (int, error)
}
