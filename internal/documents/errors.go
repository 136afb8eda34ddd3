package documents

import (
	"errors"

	"docchat-backend/internal/shared/faults"
)

var (
	// ErrNotFound is returned when the document does not exist for the owner.
	ErrNotFound = faults.NotFound("documents", errors.New("document not found"))
	// ErrInvalidInput indicates a missing or malformed argument.
	ErrInvalidInput = faults.Invalid("documents", errors.New("invalid input"))
	// ErrInvalidTransition rejects a status change that would move backwards.
	ErrInvalidTransition = faults.Invalid("documents", errors.New("invalid status transition"))
)
