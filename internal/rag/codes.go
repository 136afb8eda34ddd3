package rag

import (
	"errors"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/faults"
)

// Error codes reported to clients.
const (
	CodeRetrievalUnavailable = "retrieval_unavailable"
	CodeGenerationFailed     = "generation_failed"
	CodeConversationWrite    = "conversation_write_failed"
	CodeDocumentNotReady     = "document_not_ready"
	CodeNotFound             = "not_found"
	CodeBadRequest           = "bad_request"
	CodeInternal             = "internal_error"
)

// Code maps a Respond error to its client-facing code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRetrievalUnavailable):
		return CodeRetrievalUnavailable
	case errors.Is(err, ErrGenerationFailed):
		return CodeGenerationFailed
	case errors.Is(err, ErrConversationWrite):
		return CodeConversationWrite
	case errors.Is(err, ErrDocumentNotReady):
		return CodeDocumentNotReady
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, conversations.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, faults.ErrInvalid):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
