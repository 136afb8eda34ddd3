package conversations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/telemetry"
)

// Service owns conversation lifecycle and keeps the document's
// conversation refs in step with the conversation rows.
type Service struct {
	Repo      Repo
	Documents documents.Repo
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Start creates an empty conversation on the owner's document.
func (s *Service) Start(ctx context.Context, ownerID, documentID string) (Conversation, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(documentID) == "" {
		return Conversation{}, ErrInvalidInput
	}
	doc, err := s.Documents.Get(ctx, ownerID, documentID)
	if err != nil {
		return Conversation{}, err
	}
	return s.StartFor(ctx, doc)
}

// StartFor creates an empty conversation on doc and records its ref. A
// conversation whose ref could not be recorded is removed again.
func (s *Service) StartFor(ctx context.Context, doc documents.Document) (Conversation, error) {
	conv := Conversation{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		CreatedAt:  s.now(),
	}
	if err := s.Repo.Create(ctx, conv); err != nil {
		return Conversation{}, faults.Transient("conversations.create", err)
	}

	ref := documents.ConversationRef{ConversationID: conv.ID, CreatedAt: conv.CreatedAt}
	if err := s.Documents.AppendConversationRef(ctx, doc.ID, ref); err != nil {
		_ = s.Repo.Delete(ctx, doc.ID, conv.ID)
		if errors.Is(err, documents.ErrNotFound) {
			return Conversation{}, err
		}
		return Conversation{}, faults.Transient("conversations.ref", err)
	}

	telemetry.Info("conversations.created", map[string]any{
		"conversation_id": conv.ID,
		"document_id":     doc.ID,
		"user_id":         doc.OwnerID,
	})
	return conv, nil
}

// Resolve loads the conversation, or creates a fresh one on doc when
// conversationID is empty or unknown. created reports the latter.
func (s *Service) Resolve(ctx context.Context, doc documents.Document, conversationID string) (Conversation, bool, error) {
	if id := strings.TrimSpace(conversationID); id != "" {
		conv, err := s.Repo.Get(ctx, doc.ID, id)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Conversation{}, false, faults.Transient("conversations.get", err)
		}
	}
	conv, err := s.StartFor(ctx, doc)
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, true, nil
}

// Load returns the owner's document together with one of its conversations.
func (s *Service) Load(ctx context.Context, ownerID, documentID, conversationID string) (documents.Document, Conversation, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(documentID) == "" || strings.TrimSpace(conversationID) == "" {
		return documents.Document{}, Conversation{}, ErrInvalidInput
	}
	doc, err := s.Documents.Get(ctx, ownerID, documentID)
	if err != nil {
		return documents.Document{}, Conversation{}, err
	}
	documents.SortRefsNewestFirst(doc.ConversationRefs)

	conv, err := s.Repo.Get(ctx, doc.ID, conversationID)
	if err != nil {
		return documents.Document{}, Conversation{}, err
	}
	return doc, conv, nil
}

// Delete removes one conversation and its ref on the document.
func (s *Service) Delete(ctx context.Context, ownerID, documentID, conversationID string) error {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(documentID) == "" || strings.TrimSpace(conversationID) == "" {
		return ErrInvalidInput
	}
	doc, err := s.Documents.Get(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, doc.ID, conversationID); err != nil {
		return err
	}
	if err := s.Documents.RemoveConversationRef(ctx, doc.ID, conversationID); err != nil {
		return faults.Transient("conversations.ref", err)
	}
	telemetry.Info("conversations.deleted", map[string]any{
		"conversation_id": conversationID,
		"document_id":     doc.ID,
		"user_id":         ownerID,
	})
	return nil
}
