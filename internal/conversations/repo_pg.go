package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docchat-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts the conversation row.
func (r *PGRepo) Create(ctx context.Context, conv Conversation) error {
	if conv.ID == "" || conv.DocumentID == "" {
		return ErrInvalidInput
	}
	const query = `
INSERT INTO conversations (id, document_id, owner_id, created_at)
VALUES ($1, $2, $3, $4)`
	_, err := r.DB.ExecContext(ctx, query, conv.ID, conv.DocumentID, conv.OwnerID, conv.CreatedAt)
	return err
}

// Get loads the conversation row then its messages ordered by seq.
func (r *PGRepo) Get(ctx context.Context, documentID, conversationID string) (Conversation, error) {
	const convQuery = `
SELECT id, document_id, owner_id, created_at
FROM conversations
WHERE document_id = $1 AND id = $2`

	var conv Conversation
	err := r.DB.QueryRowContext(ctx, convQuery, documentID, conversationID).
		Scan(&conv.ID, &conv.DocumentID, &conv.OwnerID, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	const msgQuery = `
SELECT seq, role, content, metadata, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY seq`

	rows, err := r.DB.QueryContext(ctx, msgQuery, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	defer rows.Close()

	conv.Messages = make([]Message, 0)
	for rows.Next() {
		var m Message
		var role string
		var meta []byte
		if err := rows.Scan(&m.Seq, &role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return Conversation{}, err
		}
		m.Role = Role(role)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return Conversation{}, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

// Append reserves a block of sequence numbers on the conversation row and
// inserts the messages in the same transaction. The row lock taken by the
// UPDATE serializes concurrent appends.
func (r *PGRepo) Append(ctx context.Context, conversationID string, msgs ...Message) ([]Message, error) {
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}

	var out []Message
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		const reserve = `UPDATE conversations SET next_seq = next_seq + $2 WHERE id = $1 RETURNING next_seq`
		var end int
		if err := tx.QueryRowContext(ctx, reserve, conversationID, len(msgs)).Scan(&end); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const insert = `
INSERT INTO messages (conversation_id, seq, role, content, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

		now := time.Now().UTC()
		out = make([]Message, 0, len(msgs))
		for i, m := range msgs {
			m.Seq = end - len(msgs) + i + 1
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			meta := m.Metadata
			if meta == nil {
				meta = map[string]string{}
			}
			payload, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insert, conversationID, m.Seq, string(m.Role), m.Content, string(payload), m.CreatedAt); err != nil {
				return fmt.Errorf("insert message seq=%d: %w", m.Seq, err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one conversation; messages cascade.
func (r *PGRepo) Delete(ctx context.Context, documentID, conversationID string) error {
	const query = `DELETE FROM conversations WHERE document_id = $1 AND id = $2`
	res, err := r.DB.ExecContext(ctx, query, documentID, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByDocument removes every conversation of the document.
func (r *PGRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	const query = `DELETE FROM conversations WHERE document_id = $1`
	_, err := r.DB.ExecContext(ctx, query, documentID)
	return err
}

var _ Repo = (*PGRepo)(nil)
