// SPDX-License-Identifier: Apache-2.0

// Package registry provides the ticket storage abstraction: one contract
// satisfied identically by an in-process map and by a distributed cache
// shared across server nodes, plus the at-rest encoding applied at the
// storage boundary.
package registry

import (
	"context"

	"github.com/apereo/cas-sub078/pkg/ticket"
)

// Predicate filters a retrieved ticket, typically by expected type.
type Predicate func(ticket.Ticket) bool

// Any is the predicate that accepts every ticket.
func Any(ticket.Ticket) bool { return true }

// Registry stores issued tickets. Implementations serialize per-ticket-id
// updates through their backing store; callers must not assume cross-node
// atomic increments.
//
// Expiration is never checked on the read path: a store's time-based
// eviction is best effort and may lag, so callers check IsExpiredAt after
// every lookup.
type Registry interface {
	// AddTicket inserts a new ticket, passing the expiration policy's TTL
	// hint to the backing store where supported. Inserting a duplicate id
	// is caller error; the outcome is implementation-defined.
	AddTicket(ctx context.Context, t ticket.Ticket) error

	// GetTicket returns the ticket for the given id, or (nil, nil) when
	// the id is absent, cannot be decoded, or the predicate rejects the
	// retrieved ticket. A nil predicate accepts everything.
	GetTicket(ctx context.Context, id string, predicate Predicate) (ticket.Ticket, error)

	// UpdateTicket persists a mutated ticket, last-write-wins per id.
	// Granting-ticket service maps are merged, not overwritten, so
	// concurrent service-ticket grants against one TGT do not clobber
	// each other's entries. Returns the ticket as stored.
	UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)

	// DeleteTicket removes a ticket, reporting whether it existed.
	// Deleting an absent id is not an error.
	DeleteTicket(ctx context.Context, id string) (bool, error)

	// DeleteAll removes every ticket and returns the count removed.
	DeleteAll(ctx context.Context) (int, error)

	// GetTickets enumerates the tickets the store believes unexpired.
	// This is the management/cleanup path, not the hot path.
	GetTickets(ctx context.Context) ([]ticket.Ticket, error)
}
