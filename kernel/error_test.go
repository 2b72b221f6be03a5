package kernel

import (
	"errors"
	"fmt"
	"testing"
)

func TestKernelError(t *testing.T) {
	var (
		errBadEnv   = &Error{Module: "env", Message: "bad environment"}
		errSameText = &Error{Module: "env", Message: "bad environment"}
	)

	if got := errBadEnv.Error(); got != "bad environment" {
		t.Fatalf("expected Error() to return the message; got %q", got)
	}

	wrapped := fmt.Errorf("spawning hello: %w", errBadEnv)
	if !errors.Is(wrapped, errBadEnv) {
		t.Fatal("expected a wrapped error to match its sentinel")
	}
	if errors.Is(wrapped, errSameText) {
		t.Fatal("expected errors with the same text to be distinct")
	}

	var kerr *Error
	if !errors.As(wrapped, &kerr) || kerr.Module != "env" {
		t.Fatalf("expected to recover the module of a wrapped error; got %v", kerr)
	}
}
