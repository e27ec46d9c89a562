// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrInvalidTicket,
				Message: "ticket has expired",
				Cause:   errors.New("underlying error"),
			},
			want: "invalid_ticket: ticket has expired: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrStorage,
				Message: "redis unreachable",
				Cause:   nil,
			},
			want: "storage: redis unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrStorage,
		Message: "store timeout",
		Cause:   cause,
	}

	if got := errors.Unwrap(err); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"invalid ticket direct", NewInvalidTicketError("gone", nil), IsInvalidTicket, true},
		{"invalid ticket wrapped", fmt.Errorf("lookup: %w", NewInvalidTicketError("gone", nil)), IsInvalidTicket, true},
		{"unmatched service", NewUnmatchedServiceError("wrong service", nil), IsUnmatchedService, true},
		{"ticket creation", NewTicketCreationError("unknown kind", nil), IsTicketCreation, true},
		{"storage", NewStorageError("timeout", errors.New("dial tcp")), IsStorage, true},
		{"type mismatch", NewStorageError("timeout", nil), IsInvalidTicket, false},
		{"plain error", errors.New("plain"), IsStorage, false},
		{"nil error", nil, IsInvalidTicket, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}
