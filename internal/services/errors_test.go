package services_test

import (
	"errors"
	"testing"

	"loadout/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	inner := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "cloudvision", "analyze", "request failed", inner)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected ErrTransient marker, got %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped inner error, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "queue", "sync", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected nil marker to default to ErrTransient, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "a", "b", "c", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "a", "b", "c", nil), true},
		{"budget", services.Wrap(services.ErrBudgetExceeded, "a", "b", "c", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "a", "b", "c", nil), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
