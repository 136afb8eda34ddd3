package conversations

import "context"

// Repo persists conversations and their messages.
type Repo interface {
	Create(ctx context.Context, conv Conversation) error
	// Get returns the conversation with messages in append order.
	Get(ctx context.Context, documentID, conversationID string) (Conversation, error)
	// Append adds msgs in order as one atomic update and returns them with
	// Seq assigned. Concurrent appends to one conversation never lose
	// messages.
	Append(ctx context.Context, conversationID string, msgs ...Message) ([]Message, error)
	Delete(ctx context.Context, documentID, conversationID string) error
	DeleteByDocument(ctx context.Context, documentID string) error
}
