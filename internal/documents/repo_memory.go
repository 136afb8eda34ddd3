package documents

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu    sync.RWMutex
	docs  map[string]Document // documentId -> document
	byKey map[string]string   // owner + "\x00" + artifactKey -> documentId
	now   func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs:  make(map[string]Document),
		byKey: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func ownerKey(ownerID, artifactKey string) string { return ownerID + "\x00" + artifactKey }

func clone(doc Document) Document {
	doc.ConversationRefs = slices.Clone(doc.ConversationRefs)
	return doc
}

// Create stores doc once per (owner, artifact key).
func (r *MemoryRepo) Create(ctx context.Context, doc Document) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	if doc.ID == "" || doc.OwnerID == "" || doc.ArtifactKey == "" {
		return Document{}, false, ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := ownerKey(doc.OwnerID, doc.ArtifactKey)
	if id, ok := r.byKey[k]; ok {
		return clone(r.docs[id]), false, nil
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	r.docs[doc.ID] = clone(doc)
	r.byKey[k] = doc.ID
	return clone(doc), true, nil
}

// Get returns a document owned by ownerID.
func (r *MemoryRepo) Get(ctx context.Context, ownerID, documentID string) (Document, error) {
	doc, err := r.GetByID(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if doc.OwnerID != ownerID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// GetByID returns a document regardless of owner.
func (r *MemoryRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(doc), nil
}

// List returns the owner's documents, newest first.
func (r *MemoryRepo) List(ctx context.Context, ownerID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Document, 0)
	for _, doc := range r.docs {
		if doc.OwnerID == ownerID {
			out = append(out, clone(doc))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus applies a forward transition under the write lock.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, documentID string, to Status, reason string, pageCount int) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	if !CanTransition(doc.Status, to) {
		return clone(doc), ErrInvalidTransition
	}
	doc.Status = to
	doc.StatusReason = reason
	if pageCount > 0 {
		doc.PageCount = pageCount
	}
	doc.UpdatedAt = r.now()
	r.docs[documentID] = doc
	return clone(doc), nil
}

// MarkEnqueued stamps the document's enqueue time.
func (r *MemoryRepo) MarkEnqueued(ctx context.Context, documentID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.EnqueuedAt = at
	r.docs[documentID] = doc
	return nil
}

// Delete removes the owner's document.
func (r *MemoryRepo) Delete(ctx context.Context, ownerID, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok || doc.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(r.docs, documentID)
	delete(r.byKey, ownerKey(doc.OwnerID, doc.ArtifactKey))
	return nil
}

// AppendConversationRef adds ref to the end of the document's refs.
func (r *MemoryRepo) AppendConversationRef(ctx context.Context, documentID string, ref ConversationRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.ConversationRefs = append(slices.Clone(doc.ConversationRefs), ref)
	r.docs[documentID] = doc
	return nil
}

// RemoveConversationRef drops the ref for conversationID if present.
func (r *MemoryRepo) RemoveConversationRef(ctx context.Context, documentID, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.ConversationRefs = slices.DeleteFunc(slices.Clone(doc.ConversationRefs), func(ref ConversationRef) bool {
		return ref.ConversationID == conversationID
	})
	r.docs[documentID] = doc
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
