package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapError_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.FailedPrecondition, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.DeadlineExceeded, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		err := WrapError("promoCodes.create", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapError_PassesThroughCancellation(t *testing.T) {
	if err := WrapError("users.get", status.Error(codes.Canceled, "client gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("users.get", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline passthrough, got %v", err)
	}
	if WrapError("users.get", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("orders.byOrderNumber")
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err.Error() != "orders.byOrderNumber: document not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
