package domain

import "errors"

var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrConflict               = errors.New("resource conflict")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInsufficientStock      = errors.New("insufficient stock on hand")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
