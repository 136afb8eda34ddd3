package conversations

import (
	"time"

	"docchat-backend/internal/documents"
)

// MessageResponse is one message as returned to the client.
type MessageResponse struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ConversationResponse is a conversation with its messages.
type ConversationResponse struct {
	ConversationID string            `json:"conversationId"`
	CreatedAt      time.Time         `json:"createdAt"`
	Messages       []MessageResponse `json:"messages"`
}

// DetailResponse pairs a document with one of its conversations.
type DetailResponse struct {
	Document     documents.DocumentResponse `json:"document"`
	Conversation ConversationResponse       `json:"conversation"`
}

// CreatedResponse is returned after starting a conversation.
type CreatedResponse struct {
	ConversationID string `json:"conversationId"`
}

// ToResponse converts a conversation for JSON output.
func ToResponse(conv Conversation) ConversationResponse {
	msgs := make([]MessageResponse, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, MessageResponse{
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt,
		})
	}
	return ConversationResponse{
		ConversationID: conv.ID,
		CreatedAt:      conv.CreatedAt,
		Messages:       msgs,
	}
}
