package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindInvalidCredentials
	KindValidationFailed
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindInvalidCredentials:
		return "InvalidCredentials"
	case KindValidationFailed:
		return "ValidationFailed"
	default:
		return "Internal"
	}
}

// Code is the value of extensions.code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindValidationFailed:
		return "BAD_USER_INPUT"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// Error is a failure callers are allowed to see. Err keeps the underlying
// cause for logging and is never shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Value   interface{}
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

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "wrong credentials"}
}

// ValidationFailed reports a rejected input. field and value name the
// offending argument.
func ValidationFailed(message, field string, value interface{}, err error) *Error {
	return &Error{Kind: KindValidationFailed, Message: message, Field: field, Value: value, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
