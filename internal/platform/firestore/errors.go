package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrVersionMismatch signals a failed compare-and-swap on a versioned document.
var ErrVersionMismatch = errors.New("firestore: version mismatch")

// Error carries repository semantics (not found, conflict, unavailable) for a failed call.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports transient failures, including timeouts.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// NotFound builds a not-found error for op.
func NotFound(op string, err error) error {
	return &Error{op: op, err: err, notFound: true}
}

// Conflict builds a conflict error for op.
func Conflict(op string, err error) error {
	return &Error{op: op, err: err, conflict: true}
}

// WrapError maps gRPC status codes and context deadlines onto Error. Caller
// cancellation is returned unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}

	e := &Error{op: op, err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		e.unavailable = true
		return e
	}
	if errors.Is(err, ErrVersionMismatch) {
		e.conflict = true
		return e
	}
	switch status.Code(err) {
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		e.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		e.unavailable = true
	}
	return e
}
