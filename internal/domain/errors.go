package domain

import (
	"errors"
	"fmt"
)

// Kind tags every rejection the core can return.
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindProductNotFound       Kind = "PRODUCT_NOT_FOUND"
	KindProductInactive       Kind = "PRODUCT_INACTIVE"
	KindInsufficientOnHand    Kind = "INSUFFICIENT_ON_HAND"
	KindInsufficientReserved  Kind = "INSUFFICIENT_RESERVED"
	KindInsufficientAvailable Kind = "INSUFFICIENT_AVAILABLE"
	KindConflict              Kind = "CONFLICT"
	KindDuplicateRequestID    Kind = "DUPLICATE_REQUEST_ID"
)

// Error is a rejection of a requested operation.
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

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrProductNotFound       = &Error{Kind: KindProductNotFound}
	ErrProductInactive       = &Error{Kind: KindProductInactive}
	ErrInsufficientOnHand    = &Error{Kind: KindInsufficientOnHand}
	ErrInsufficientReserved  = &Error{Kind: KindInsufficientReserved}
	ErrInsufficientAvailable = &Error{Kind: KindInsufficientAvailable}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrDuplicateRequestID    = &Error{Kind: KindDuplicateRequestID}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func ProductNotFound(id fmt.Stringer) *Error {
	return newError(KindProductNotFound, "product not found: %s", id)
}

func ProductInactive(code string) *Error {
	return newError(KindProductInactive, "product is inactive: %s", code)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func DuplicateRequestID(err error) *Error {
	return &Error{Kind: KindDuplicateRequestID, Message: "idempotency key already used", Err: err}
}

// KindOf returns the Kind carried by err, or "" when err is not a core rejection.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
