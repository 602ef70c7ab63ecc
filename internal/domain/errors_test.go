package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "validation sentinel", err: ErrItemsRequired, want: ErrValidation},
		{name: "restaurant inactive", err: ErrRestaurantInactive, want: ErrValidation},
		{name: "item unavailable wrapped", err: fmt.Errorf("%w: menu item tea", ErrItemUnavailable), want: ErrValidation},
		{name: "order not found", err: ErrOrderNotFound, want: ErrNotFound},
		{name: "menu item not found", err: ErrMenuItemNotFound, want: ErrNotFound},
		{name: "unauthorized", err: fmt.Errorf("%w: not your order", ErrUnauthorized), want: ErrUnauthorized},
		{name: "invalid transition", err: ErrInvalidTransition, want: ErrStateConflict},
		{name: "version conflict", err: ErrOrderVersionConflict, want: ErrStateConflict},
		{name: "circuit open", err: ErrCircuitOpen, want: ErrDependencyUnavailable},
		{name: "unknown", err: errors.New("boom"), want: ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindedErrorKeepsIdentity(t *testing.T) {
	err := fmt.Errorf("restaurant r-1: %w", ErrRestaurantInactive)
	if !errors.Is(err, ErrRestaurantInactive) {
		t.Fatal("expected specific sentinel to match")
	}
	if errors.Is(err, ErrItemUnavailable) {
		t.Fatal("sentinels of the same kind must stay distinct")
	}
	if err.Error() != "restaurant r-1: restaurant is not active" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "same kind other error", err: ErrInvalidTransition, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped idempotency conflict", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrOrderVersionConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrTotalMismatch, want: "VALIDATION"},
		{err: fmt.Errorf("load: %w", ErrOrderNotFound), want: "NOT_FOUND"},
		{err: ErrUnauthorized, want: "UNAUTHORIZED"},
		{err: ErrInvalidTransition, want: "STATE_CONFLICT"},
		{err: ErrCircuitOpen, want: "DEPENDENCY_UNAVAILABLE"},
		{err: errors.New("boom"), want: "INTERNAL"},
	}

	for _, tc := range tests {
		if got := Code(tc.err); got != tc.want {
			t.Errorf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
