package documents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
)

// ConversationPurger removes every conversation of a document.
type ConversationPurger interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ChunkPurger removes every retrieval chunk of a document.
type ChunkPurger interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Service contains business logic for documents.
type Service struct {
	Repo          Repo
	Store         object.ObjectStore
	Conversations ConversationPurger
	Chunks        ChunkPurger
}

// List returns the owner's documents, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.List(ctx, ownerID)
}

// Get returns one document with its conversation refs newest first.
func (s *Service) Get(ctx context.Context, ownerID, documentID string) (Document, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(documentID) == "" {
		return Document{}, ErrInvalidInput
	}
	doc, err := s.Repo.Get(ctx, ownerID, documentID)
	if err != nil {
		return Document{}, err
	}
	SortRefsNewestFirst(doc.ConversationRefs)
	return doc, nil
}

// Delete removes the document and everything derived from it. Each step is
// idempotent, so a failed delete can be retried.
func (s *Service) Delete(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.Get(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	fields := map[string]any{"document_id": doc.ID, "user_id": ownerID}

	if s.Conversations != nil {
		if err := s.Conversations.DeleteByDocument(ctx, doc.ID); err != nil {
			return faults.Transient("documents.delete.conversations", err)
		}
	}
	if s.Chunks != nil {
		if err := s.Chunks.DeleteByDocument(ctx, doc.ID); err != nil {
			return faults.Transient("documents.delete.chunks", err)
		}
	}
	if s.Store != nil {
		removed, err := s.Store.DeletePrefix(ctx, DerivedPrefix(doc.ArtifactKey))
		if err != nil {
			return faults.Transient("documents.delete.derived", err)
		}
		if err := s.Store.Delete(ctx, doc.ArtifactKey); err != nil {
			return faults.Transient("documents.delete.artifact", err)
		}
		fields["derived_removed"] = removed
	}
	if err := s.Repo.Delete(ctx, ownerID, doc.ID); err != nil {
		return fmt.Errorf("delete document row: %w", err)
	}

	telemetry.Info("documents.deleted", fields)
	return nil
}

// SortRefsNewestFirst orders refs by creation time, latest first.
func SortRefsNewestFirst(refs []ConversationRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].CreatedAt.After(refs[j].CreatedAt)
	})
}
