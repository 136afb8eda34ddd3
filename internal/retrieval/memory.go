package retrieval

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps chunks in process and ranks by cosine similarity.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]map[int]Chunk // documentId -> index -> chunk
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]map[int]Chunk)}
}

// UpsertChunk writes c, replacing any chunk at the same key.
func (s *MemoryStore) UpsertChunk(ctx context.Context, c Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Vector = slices.Clone(c.Vector)
	c.Score = 0
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chunks[c.DocumentID]
	if !ok {
		doc = make(map[int]Chunk)
		s.chunks[c.DocumentID] = doc
	}
	doc[c.Index] = c
	return nil
}

// TopK scores every chunk of the document against query.
func (s *MemoryStore) TopK(ctx context.Context, documentID string, query []float32, k int) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Chunk{}, nil
	}
	s.mu.RLock()
	scored := make([]Chunk, 0, len(s.chunks[documentID]))
	for _, c := range s.chunks[documentID] {
		if len(c.Vector) != len(query) {
			s.mu.RUnlock()
			return nil, ErrDimensionMismatch
		}
		c.Score = CosineSimilarity(query, c.Vector)
		scored = append(scored, c)
	}
	s.mu.RUnlock()

	SortByScore(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Trim drops chunks at or beyond keep.
func (s *MemoryStore) Trim(ctx context.Context, documentID string, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx := range s.chunks[documentID] {
		if idx >= keep {
			delete(s.chunks[documentID], idx)
		}
	}
	return nil
}

// DeleteByDocument removes every chunk of documentID.
func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.chunks, documentID)
	s.mu.Unlock()
	return nil
}

// Count reports stored chunks for documentID.
func (s *MemoryStore) Count(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

// CosineSimilarity returns 0 for zero-length or zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortByScore orders by descending score, then ascending index.
func SortByScore(chunks []Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Index < chunks[j].Index
	})
}

var _ Store = (*MemoryStore)(nil)
