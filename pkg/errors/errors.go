// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed error taxonomy shared by the ticket
// registry and the central authentication service.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrInvalidTicket is returned when a ticket is absent, expired, or of
	// the wrong kind for the requested operation. Recoverable: the user
	// retries the login flow.
	ErrInvalidTicket = "invalid_ticket"

	// ErrUnmatchedService is returned when a service ticket is presented by
	// a service other than the one it was minted for.
	ErrUnmatchedService = "unmatched_service"

	// ErrTicketCreation is returned on catalog or expiration-policy
	// misconfiguration. Fatal at startup, not a per-request condition.
	ErrTicketCreation = "ticket_creation"

	// ErrStorage is returned when the registry's backing store is
	// unreachable or timed out. Never retried inside the core.
	ErrStorage = "storage"
)

// Error represents an error in the ticketing core
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidTicketError creates a new invalid ticket error
func NewInvalidTicketError(message string, cause error) *Error {
	return NewError(ErrInvalidTicket, message, cause)
}

// NewUnmatchedServiceError creates a new unmatched service error
func NewUnmatchedServiceError(message string, cause error) *Error {
	return NewError(ErrUnmatchedService, message, cause)
}

// NewTicketCreationError creates a new ticket creation error
func NewTicketCreationError(message string, cause error) *Error {
	return NewError(ErrTicketCreation, message, cause)
}

// NewStorageError creates a new storage error
func NewStorageError(message string, cause error) *Error {
	return NewError(ErrStorage, message, cause)
}

// isType checks whether err carries a *Error of the given type anywhere in
// its chain.
func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsInvalidTicket checks if the error is an invalid ticket error
func IsInvalidTicket(err error) bool {
	return isType(err, ErrInvalidTicket)
}

// IsUnmatchedService checks if the error is an unmatched service error
func IsUnmatchedService(err error) bool {
	return isType(err, ErrUnmatchedService)
}

// IsTicketCreation checks if the error is a ticket creation error
func IsTicketCreation(err error) bool {
	return isType(err, ErrTicketCreation)
}

// IsStorage checks if the error is a storage error
func IsStorage(err error) bool {
	return isType(err, ErrStorage)
}
