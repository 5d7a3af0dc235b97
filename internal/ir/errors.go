package ir

import (
	"context"
	"errors"
	"fmt"
)

// Error is a classified failure of a pool operation.
//
// Every error that leaves the store, the replication engine or the query
// facade is an *Error (possibly wrapped), so callers can tell a retryable
// I/O problem from a rejected record without inspecting driver errors.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op names the operation that failed ("store.upsert", "peer.feed").
	Op string

	// ID identifies the affected record, if any.
	ID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// ErrorKind categorizes pool errors.
type ErrorKind string

const (
	// KindTransient is a network or database failure; retry later.
	KindTransient ErrorKind = "TRANSIENT"

	// KindValidation is a malformed record or an inconsistent structured
	// representation. Reported per record.
	KindValidation ErrorKind = "VALIDATION"

	// KindConflict is a stale update rejected by the timestamp rule.
	KindConflict ErrorKind = "CONFLICT"

	// KindNotFound is an absent record.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindDecode is a wire format error while decoding a batch.
	KindDecode ErrorKind = "DECODE"

	// KindInvariant is a programming error such as a missing id.
	KindInvariant ErrorKind = "INVARIANT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Op != "" && e.ID != "":
		return fmt.Sprintf("%s: %s: %s (id=%s)", e.Kind, e.Op, msg, e.ID)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Context cancellation and deadlines count
// as transient; any other unclassified error is reported as transient too,
// since it came from I/O below the pool.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsKind reports whether err is classified as kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsRetryable reports whether the operation may succeed when retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransient
}

// Transient wraps an I/O failure. Returns nil for a nil err and keeps an
// already classified error unchanged.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// NewValidationError creates a VALIDATION error for one record.
func NewValidationError(op, id, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, ID: id, Message: message}
}

// NewNotFoundError creates a NOT_FOUND error.
func NewNotFoundError(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, ID: id, Message: "not found"}
}

// NewDecodeError creates a DECODE error.
func NewDecodeError(op, message string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Message: message, Err: err}
}

// NewInvariantError creates an INVARIANT error.
func NewInvariantError(op, id, message string) *Error {
	return &Error{Kind: KindInvariant, Op: op, ID: id, Message: message}
}

// NewConflictError creates a CONFLICT error describing a stale update.
func NewConflictError(op, id string, incoming, stored int64) *Error {
	return &Error{
		Kind:    KindConflict,
		Op:      op,
		ID:      id,
		Message: fmt.Sprintf("update time %d older than stored %d", incoming, stored),
	}
}
