package conversations

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu    sync.RWMutex
	convs map[string]Conversation
	now   func() time.Time
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		convs: make(map[string]Conversation),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new conversation. Reusing an ID is rejected.
func (r *MemoryRepo) Create(ctx context.Context, conv Conversation) error {
	if conv.ID == "" || conv.DocumentID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[conv.ID]; ok {
		return ErrInvalidInput
	}
	conv.Messages = nil
	r.convs[conv.ID] = conv
	return nil
}

// Get returns a copy of the conversation.
func (r *MemoryRepo) Get(ctx context.Context, documentID, conversationID string) (Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.DocumentID != documentID {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// Append assigns sequence numbers under the write lock.
func (r *MemoryRepo) Append(ctx context.Context, conversationID string, msgs ...Message) ([]Message, error) {
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		m.Seq = len(conv.Messages) + 1
		if m.CreatedAt.IsZero() {
			m.CreatedAt = r.now()
		}
		m.Metadata = maps.Clone(m.Metadata)
		conv.Messages = append(conv.Messages, m)
		out = append(out, m)
	}
	r.convs[conversationID] = conv
	return out, nil
}

// Delete removes one conversation of the document.
func (r *MemoryRepo) Delete(ctx context.Context, documentID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.DocumentID != documentID {
		return ErrNotFound
	}
	delete(r.convs, conversationID)
	return nil
}

// DeleteByDocument removes every conversation of the document.
func (r *MemoryRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conv := range r.convs {
		if conv.DocumentID == documentID {
			delete(r.convs, id)
		}
	}
	return nil
}

func cloneConversation(conv Conversation) Conversation {
	msgs := make([]Message, len(conv.Messages))
	for i, m := range conv.Messages {
		m.Metadata = maps.Clone(m.Metadata)
		msgs[i] = m
	}
	conv.Messages = msgs
	return conv
}

func validateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return ErrInvalidInput
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			return ErrInvalidInput
		}
	}
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
