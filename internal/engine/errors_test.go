package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"classified timeout", NewError("a", KindTimeout, errors.New("deadline")), KindTimeout},
		{"classified auth failure", NewError("a", KindAuthFailure, nil), KindAuthFailure},
		{"wrapped classified error", fmt.Errorf("dispatch: %w", NewError("a", KindRateLimited, nil)), KindRateLimited},
		{"plain error defaults to unavailable", errors.New("boom"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	e := NewError("google-a", KindTimeout, errors.New("context deadline exceeded"))
	want := "engine google-a: TIMEOUT: context deadline exceeded"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	bare := NewError("kaldi-b", KindUnavailable, nil)
	if bare.Error() != "engine kaldi-b: UNAVAILABLE" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("socket closed")
	e := NewError("a", KindUnavailable, inner)
	if !errors.Is(e, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}
}
