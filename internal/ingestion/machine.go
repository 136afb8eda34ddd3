// Package ingestion owns the document status lifecycle: creating documents
// from upload notifications, enqueueing ingestion jobs, and recording the
// worker's terminal outcome.
package ingestion

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

// ErrInvalidNotification rejects a notification without owner or key.
var ErrInvalidNotification = faults.Invalid("ingestion", errors.New("invalid upload notification"))

// Notification reports a newly stored artifact.
type Notification struct {
	ArtifactKey string
	OwnerID     string
	Filename    string
	ByteSize    int64
}

// UploadResult describes what HandleUpload did.
type UploadResult struct {
	Document documents.Document
	Created  bool
	Enqueued bool
	Filtered bool
}

// ConversationStarter opens the first conversation of a new document.
type ConversationStarter interface {
	StartFor(ctx context.Context, doc documents.Document) (conversations.Conversation, error)
}

// Machine applies status transitions to documents.
type Machine struct {
	Documents     documents.Repo
	Conversations ConversationStarter
	Jobs          queue.Client
	// Accept lists the artifact suffixes turned into documents, e.g. ".pdf".
	Accept []string
	Now    func() time.Time
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Accepts reports whether key names an upload of an accepted type.
func (m *Machine) Accepts(key string) bool {
	if documents.IsDerivedKey(key) {
		return false
	}
	lower := strings.ToLower(key)
	for _, suffix := range m.Accept {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// HandleUpload creates the document for n once per (owner, key) and
// enqueues its ingestion job. A duplicate notification re-enqueues only
// when the document is still UPLOADED and no job send was recorded.
func (m *Machine) HandleUpload(ctx context.Context, n Notification) (UploadResult, error) {
	n.ArtifactKey = strings.TrimLeft(strings.TrimSpace(n.ArtifactKey), "/")
	n.OwnerID = strings.TrimSpace(n.OwnerID)
	if n.ArtifactKey == "" || n.OwnerID == "" {
		return UploadResult{}, ErrInvalidNotification
	}
	fields := map[string]any{"artifact_key": n.ArtifactKey, "user_id": n.OwnerID}

	if !m.Accepts(n.ArtifactKey) {
		telemetry.Info("ingestion.upload.filtered", fields)
		metrics.IncUpload("filtered")
		return UploadResult{Filtered: true}, nil
	}

	filename := n.Filename
	if filename == "" {
		filename = path.Base(n.ArtifactKey)
	}
	now := m.now()
	stored, created, err := m.Documents.Create(ctx, documents.Document{
		ID:          uuid.NewString(),
		OwnerID:     n.OwnerID,
		Filename:    filename,
		ArtifactKey: n.ArtifactKey,
		ByteSize:    n.ByteSize,
		Status:      documents.StatusUploaded,
		CreatedAt:   now,
	})
	if err != nil {
		metrics.IncUpload("failed")
		return UploadResult{}, faults.Transient("ingestion.create", err)
	}
	fields["document_id"] = stored.ID
	result := UploadResult{Document: stored, Created: created}

	if created {
		telemetry.Info("ingestion.document.created", fields)
		metrics.IncTransition("", string(documents.StatusUploaded))
		if m.Conversations != nil {
			if _, err := m.Conversations.StartFor(ctx, stored); err != nil {
				f := copyFields(fields)
				f["error"] = err.Error()
				telemetry.Warn("ingestion.conversation.failed", f)
			}
		}
	}

	if !created && (stored.Status != documents.StatusUploaded || !stored.EnqueuedAt.IsZero()) {
		telemetry.Info("ingestion.upload.duplicate", fields)
		metrics.IncUpload("duplicate")
		return result, nil
	}

	if err := m.Jobs.Send(ctx, queue.NewMessage(stored.ID, stored.ArtifactKey, now)); err != nil {
		metrics.IncUpload("failed")
		f := copyFields(fields)
		f["error"] = err.Error()
		telemetry.Error("ingestion.enqueue.failed", f)
		return result, faults.Transient("ingestion.enqueue", err)
	}
	result.Enqueued = true
	if err := m.Documents.MarkEnqueued(ctx, stored.ID, now); err != nil {
		f := copyFields(fields)
		f["error"] = err.Error()
		telemetry.Warn("ingestion.enqueue.mark_failed", f)
	} else {
		result.Document.EnqueuedAt = now
	}

	if created {
		metrics.IncUpload("created")
	} else {
		metrics.IncUpload("duplicate")
	}
	telemetry.Info("ingestion.job.enqueued", fields)
	return result, nil
}

// Begin moves doc to PROCESSING. Redelivered jobs find the document
// already PROCESSING and pass through.
func (m *Machine) Begin(ctx context.Context, doc documents.Document) (documents.Document, error) {
	return m.transition(ctx, doc, documents.StatusProcessing, "", 0)
}

// Complete marks doc READY with its page count.
func (m *Machine) Complete(ctx context.Context, doc documents.Document, pageCount int) (documents.Document, error) {
	return m.transition(ctx, doc, documents.StatusReady, "", pageCount)
}

// Fail marks doc ERROR with reason.
func (m *Machine) Fail(ctx context.Context, doc documents.Document, reason string) (documents.Document, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "processing failed"
	}
	return m.transition(ctx, doc, documents.StatusError, reason, 0)
}

func (m *Machine) transition(ctx context.Context, doc documents.Document, to documents.Status, reason string, pageCount int) (documents.Document, error) {
	updated, err := m.Documents.UpdateStatus(ctx, doc.ID, to, reason, pageCount)
	if err != nil {
		return updated, err
	}
	if doc.Status != to {
		fields := map[string]any{
			"document_id": doc.ID,
			"user_id":     doc.OwnerID,
			"from":        string(doc.Status),
			"to":          string(to),
		}
		if reason != "" {
			fields["reason"] = reason
		}
		if pageCount > 0 {
			fields["page_count"] = pageCount
		}
		telemetry.Info("ingestion.status_transition", fields)
		metrics.IncTransition(string(doc.Status), string(to))
	}
	return updated, nil
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
