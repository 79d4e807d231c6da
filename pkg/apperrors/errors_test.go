package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf_AppError(t *testing.T) {
	err := Forbidden("row-level policy rejected write")
	if CodeOf(err) != CodeAuthorizationDenied {
		t.Errorf("expected AUTHORIZATION_DENIED, got %s", CodeOf(err))
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := Transient("store unreachable", errors.New("dial tcp: refused"))
	outer := fmt.Errorf("send message: %w", inner)
	if CodeOf(outer) != CodeTransientStore {
		t.Errorf("expected TRANSIENT_STORE through wrap chain, got %s", CodeOf(outer))
	}
	if !IsTransient(outer) {
		t.Error("expected IsTransient to be true")
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeUnknown {
		t.Error("plain errors should report CodeUnknown")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeTransientStore, "query reminders", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(CodeTransientStore, "query reminders", errors.New("timeout"))
	want := "query reminders: timeout"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if got := Invalid("empty message").Error(); got != "empty message" {
		t.Errorf("expected bare message, got %q", got)
	}
}
