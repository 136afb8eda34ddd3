package documents

import (
	"context"
	"time"
)

// Repo defines persistence operations for documents.
type Repo interface {
	// Create inserts doc unless (OwnerID, ArtifactKey) already exists, in
	// which case the stored document is returned with created=false.
	Create(ctx context.Context, doc Document) (stored Document, created bool, err error)
	Get(ctx context.Context, ownerID, documentID string) (Document, error)
	GetByID(ctx context.Context, documentID string) (Document, error)
	List(ctx context.Context, ownerID string) ([]Document, error)
	// UpdateStatus applies a forward transition. pageCount is stored when
	// positive. Returns ErrInvalidTransition when the current status does
	// not allow it.
	UpdateStatus(ctx context.Context, documentID string, to Status, reason string, pageCount int) (Document, error)
	// MarkEnqueued records that the ingestion job for the document was sent.
	MarkEnqueued(ctx context.Context, documentID string, at time.Time) error
	Delete(ctx context.Context, ownerID, documentID string) error
	AppendConversationRef(ctx context.Context, documentID string, ref ConversationRef) error
	RemoveConversationRef(ctx context.Context, documentID, conversationID string) error
}
