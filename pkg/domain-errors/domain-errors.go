// Package domainerrors carries transport-independent error codes across the
// receipt service's store, service and handler layers.
package domainerrors

import (
	"errors"

	"klarogeo/internal/sentinel"
)

type Code string

const (
	CodeNotFound    Code = "not_found"
	CodeBadRequest  Code = "bad_request"
	CodeValidation  Code = "validation_failed"
	CodeInternal    Code = "internal_error"
	CodeConflict    Code = "conflict"
	CodeForbidden   Code = "forbidden"
	CodeUnavailable Code = "unavailable"

	// CodeInvalidNonce marks a receipt submission whose nonce is missing,
	// expired, or signed for another action.
	CodeInvalidNonce Code = "invalid_nonce"
)

// Error pairs a stable code with a client-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches msg to err. An existing domain code in err wins over code.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// FromSentinel translates a store or client error into a domain error,
// choosing the code from the sentinel it wraps.
func FromSentinel(err error, msg string) error {
	if err == nil {
		return nil
	}
	code := CodeInternal
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, sentinel.ErrConflict):
		code = CodeConflict
	case errors.Is(err, sentinel.ErrUnavailable):
		code = CodeUnavailable
	}
	return Wrap(err, code, msg)
}

func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in err, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
