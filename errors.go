package formwizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAction is returned by MessageRouter.Route for actions it
	// does not handle.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnsupportedLanguage is returned when a language has no catalog.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// FieldError is a rejected intent with the context a client needs to show
// it next to the offending input.
type FieldError struct {
	Action  string // Intent that failed, e.g. "update"
	Field   string // Offending payload field, optional
	Message string // What went wrong
	Hint    string // Helpful suggestion, optional
	Err     error  // Underlying cause, optional
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return e.Format()
}

// Format renders the error on one line: "update: section: unknown section (use one of ...)".
func (e *FieldError) Format() string {
	var b strings.Builder
	b.WriteString(e.Action)
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (%s)", e.Hint)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError creates a new FieldError.
func NewFieldError(action, message string) *FieldError {
	return &FieldError{
		Action:  action,
		Message: message,
	}
}

// WithField names the offending payload field.
func (e *FieldError) WithField(field string) *FieldError {
	e.Field = field
	return e
}

// WithHint adds a helpful hint to the error.
func (e *FieldError) WithHint(hint string) *FieldError {
	e.Hint = hint
	return e
}

// WithCause records the underlying error.
func (e *FieldError) WithCause(err error) *FieldError {
	e.Err = err
	return e
}
