package rag

import (
	"errors"

	"docchat-backend/internal/shared/faults"
)

// Each failing stage of Respond wraps its cause with exactly one of these,
// so callers can report the stage without inspecting the cause.
var (
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrGenerationFailed     = errors.New("generation failed")
	ErrConversationWrite    = errors.New("conversation write failed")
)

var (
	// ErrDocumentNotReady rejects questions about a document still being indexed.
	ErrDocumentNotReady = faults.Invalid("rag", errors.New("document is not ready"))
	// ErrEmptyPrompt rejects a blank question.
	ErrEmptyPrompt = faults.Invalid("rag", errors.New("prompt is required"))
)
