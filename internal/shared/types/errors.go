package types

import (
	"errors"
	"fmt"
)

// Category is the stable, machine-readable class of an error. Clients branch
// on category, never on message text.
type Category string

const (
	CategoryNotFound         Category = "not_found"
	CategoryAlreadyBound     Category = "already_bound"
	CategorySessionTerminal  Category = "session_terminal"
	CategoryProtocol         Category = "protocol_error"
	CategoryInvalidRequest   Category = "invalid_request"
	CategoryInvocationFailed Category = "invocation_failed"
	CategoryModelUnavailable Category = "model_unavailable"
	CategoryTimeout          Category = "timeout"
	CategoryCancelled        Category = "cancelled"
	CategoryNotCancellable   Category = "not_cancellable"
	CategoryInternal         Category = "internal_error"
	CategoryRateLimited      Category = "rate_limited"
)

// Execution reports whether the category terminates a run
func (c Category) Execution() bool {
	switch c {
	case CategoryInvocationFailed, CategoryModelUnavailable, CategoryTimeout, CategoryCancelled:
		return true
	}
	return false
}

// Error is a categorized error
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same category
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Category == e.Category
}

// NewError creates a categorized error
func NewError(category Category, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

var (
	ErrNotFound        = &Error{Category: CategoryNotFound, Message: "session not found"}
	ErrAlreadyBound    = &Error{Category: CategoryAlreadyBound, Message: "session already has an attached channel"}
	ErrSessionTerminal = &Error{Category: CategorySessionTerminal, Message: "session has already finished"}
	ErrProtocol        = &Error{Category: CategoryProtocol, Message: "protocol error"}
	ErrInvalidRequest  = &Error{Category: CategoryInvalidRequest, Message: "invalid request"}
	ErrInternal        = &Error{Category: CategoryInternal, Message: "internal error"}
)

// CategoryOf extracts the category of err, defaulting to internal_error
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// MessageOf returns the human-readable message of err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
