package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error carries the repository classification of a Firestore failure. It satisfies
// repositories.RepositoryError.
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

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports an existing document or a failed precondition.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports a transient backend failure.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// NotFoundError builds a not-found Error for lookups that resolve through queries rather
// than document gets.
func NotFoundError(op string) error {
	return &Error{op: op, err: errors.New("document not found"), notFound: true}
}

// WrapError classifies err by gRPC status. Cancellation and deadline errors pass through
// unchanged so callers can match them with errors.Is.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	e := &Error{op: op, err: err}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		e.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded, codes.Unknown:
		e.unavailable = true
	}
	return e
}
