// ABOUTME: Error taxonomy for the messaging service boundary
// ABOUTME: Maps store failures onto validation/not_found/conflict/unavailable kinds with HTTP statuses

package messaging

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/hostel-messaging/internal/store"
)

// Kind classifies a service error.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// HTTPStatus returns the response status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Service method. Message is stable and safe to
// show to clients; Err holds the underlying cause and is never exposed.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindInternal for errors from elsewhere.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// storeError maps a store failure. ErrNotFound becomes not_found for what;
// anything else is a transient infrastructure failure.
func storeError(err error, what string) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	}
	if errors.Is(err, store.ErrDuplicateConversation) {
		return &Error{Kind: KindConflict, Message: "conversation already exists", Err: err}
	}
	return &Error{Kind: KindUnavailable, Message: "storage temporarily unavailable", Err: err}
}
