package conversations

import (
	"errors"

	"docchat-backend/internal/shared/faults"
)

var (
	// ErrNotFound is returned when the conversation does not exist for the document.
	ErrNotFound = faults.NotFound("conversations", errors.New("conversation not found"))
	// ErrInvalidInput indicates a missing or malformed argument.
	ErrInvalidInput = faults.Invalid("conversations", errors.New("invalid input"))
)
