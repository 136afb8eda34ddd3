package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const documentColumns = `id, owner_id, artifact_key, filename, byte_size, status, status_reason, page_count, enqueued_at, conversation_refs, created_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status string
	var reason sql.NullString
	var enqueued sql.NullTime
	var refs []byte
	if err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.ArtifactKey,
		&doc.Filename,
		&doc.ByteSize,
		&status,
		&reason,
		&doc.PageCount,
		&enqueued,
		&refs,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if reason.Valid {
		doc.StatusReason = reason.String
	}
	if enqueued.Valid {
		doc.EnqueuedAt = enqueued.Time
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &doc.ConversationRefs); err != nil {
			return Document{}, fmt.Errorf("decode conversation refs: %w", err)
		}
	}
	return doc, nil
}

// Create inserts the document; a conflicting (owner_id, artifact_key)
// returns the stored row instead.
func (r *PGRepo) Create(ctx context.Context, doc Document) (Document, bool, error) {
	if doc.ID == "" || doc.OwnerID == "" || doc.ArtifactKey == "" {
		return Document{}, false, ErrInvalidInput
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	const insert = `
INSERT INTO documents (id, owner_id, artifact_key, filename, byte_size, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (owner_id, artifact_key) DO NOTHING
RETURNING ` + documentColumns

	stored, err := scanDocument(r.DB.QueryRowContext(ctx, insert,
		doc.ID,
		doc.OwnerID,
		doc.ArtifactKey,
		doc.Filename,
		doc.ByteSize,
		string(doc.Status),
		doc.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, err
	}

	const existing = `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 AND artifact_key = $2`
	stored, err = scanDocument(r.DB.QueryRowContext(ctx, existing, doc.OwnerID, doc.ArtifactKey))
	if err != nil {
		return Document{}, false, err
	}
	return stored, false, nil
}

// Get fetches a document by ID for an owner.
func (r *PGRepo) Get(ctx context.Context, ownerID, documentID string) (Document, error) {
	const query = `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 AND id = $2`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, ownerID, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// GetByID fetches a document by ID regardless of owner.
func (r *PGRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	const query = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// List returns the owner's documents newest first.
func (r *PGRepo) List(ctx context.Context, ownerID string) ([]Document, error) {
	const query = `SELECT ` + documentColumns + `
FROM documents
WHERE owner_id = $1
ORDER BY created_at DESC, id`

	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// UpdateStatus moves the document forward only when its current status
// allows it; the check and the write are one statement.
func (r *PGRepo) UpdateStatus(ctx context.Context, documentID string, to Status, reason string, pageCount int) (Document, error) {
	from := AllowedFrom(to)
	if len(from) == 0 {
		return Document{}, ErrInvalidTransition
	}
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	const query = `
UPDATE documents
SET status = $2,
    status_reason = NULLIF($3, ''),
    page_count = CASE WHEN $4::int > 0 THEN $4::int ELSE page_count END,
    updated_at = now()
WHERE id = $1 AND status = ANY(string_to_array($5, ','))
RETURNING ` + documentColumns

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query,
		documentID,
		string(to),
		reason,
		pageCount,
		strings.Join(allowed, ","),
	))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, err
	}

	current, getErr := r.GetByID(ctx, documentID)
	if getErr != nil {
		return Document{}, getErr
	}
	return current, ErrInvalidTransition
}

// MarkEnqueued sets enqueued_at once the ingestion job was sent.
func (r *PGRepo) MarkEnqueued(ctx context.Context, documentID string, at time.Time) error {
	const query = `UPDATE documents SET enqueued_at = $2 WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, documentID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the owner's document. Conversations cascade by foreign key.
func (r *PGRepo) Delete(ctx context.Context, ownerID, documentID string) error {
	const query = `DELETE FROM documents WHERE owner_id = $1 AND id = $2`
	res, err := r.DB.ExecContext(ctx, query, ownerID, documentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendConversationRef appends ref to the JSONB refs array.
func (r *PGRepo) AppendConversationRef(ctx context.Context, documentID string, ref ConversationRef) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	const query = `
UPDATE documents
SET conversation_refs = conversation_refs || jsonb_build_array($2::jsonb), updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, documentID, string(payload))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveConversationRef filters conversationID out of the refs array,
// preserving the order of the rest.
func (r *PGRepo) RemoveConversationRef(ctx context.Context, documentID, conversationID string) error {
	const query = `
UPDATE documents
SET conversation_refs = COALESCE((
        SELECT jsonb_agg(ref ORDER BY ord)
        FROM jsonb_array_elements(conversation_refs) WITH ORDINALITY AS r(ref, ord)
        WHERE ref->>'conversationId' <> $2
    ), '[]'::jsonb),
    updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, documentID, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repo = (*PGRepo)(nil)
