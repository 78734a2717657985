package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how it must be surfaced to the caller.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindRateLimit    Kind = "rate_limit"
	KindImageLoad    Kind = "image_load"
	KindCodeNotFound Kind = "code_not_found"
	KindPersistence  Kind = "persistence"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap attaches a kind to err. An err that already carries a kind is returned as is.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first typed error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err. Internal failures never leak details.
func MessageOf(err error) string {
	var target *Error
	if errors.As(err, &target) && target.Kind != KindInternal {
		return target.Message
	}
	return "Failed to process image"
}

// HTTPStatus maps a kind to the status code used by the HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindImageLoad:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCodeNotFound:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
