package attendance

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrDuplicate     = errors.New("already exists")
	ErrAlreadyMarked = errors.New("attendance already registered for this class today")
	ErrAuth          = errors.New("authentication failed")
	ErrNotEnrolled   = errors.New("student is not enrolled in the class")
	ErrNotFound      = errors.New("not found")
)

// Registration collisions. Both are ErrDuplicate.
var (
	ErrDuplicateID    = fmt.Errorf("%w: a student with this enrollment id already exists", ErrDuplicate)
	ErrDuplicateEmail = fmt.Errorf("%w: a student with this email already exists", ErrDuplicate)
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func required(field string) error {
	return invalid(field, "this field is required")
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
