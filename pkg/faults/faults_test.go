package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation error", New(Validation, "bad manifest"), Validation},
		{"not found error", New(NotFound, "plugin %q unknown", "x"), NotFound},
		{"conflict error", New(Conflict, "duplicate id"), Conflict},
		{"wrapped classified error", fmt.Errorf("install: %w", New(Conflict, "dup")), Conflict},
		{"plain error defaults to fatal", errors.New("boom"), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Wrap(AccessViolation, errors.New("network not declared"), "invoke export")

	if !IsKind(err, AccessViolation) {
		t.Error("expected AccessViolation kind")
	}
	if IsKind(err, NotFound) {
		t.Error("did not expect NotFound kind")
	}
	if IsKind(errors.New("plain"), AccessViolation) {
		t.Error("plain error should not match any kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(ProviderFailure, inner, "fetch models")

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find inner error")
	}
	want := "fetch models: inner"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
