// SPDX-License-Identifier: Apache-2.0

// Package ticket defines the security-token entities issued by the central
// authentication service, the catalog of ticket kinds, the ticket id
// generator, and the serialization manager used by text-based registries.
package ticket

import (
	"time"

	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// Kind identifies a ticket kind. The kind doubles as the id prefix.
type Kind string

// The closed set of ticket kinds.
const (
	// KindTicketGranting is the long-lived credential issued after primary
	// authentication; the root of a session.
	KindTicketGranting Kind = "TGT"

	// KindService is the short-lived, normally single-use token exchanged
	// for access to one target service.
	KindService Kind = "ST"

	// KindProxyGranting mirrors TGT one level down: it lets a service
	// authenticate to another service on the user's behalf.
	KindProxyGranting Kind = "PGT"

	// KindProxy is the service-ticket analogue minted from a
	// proxy-granting ticket.
	KindProxy Kind = "PT"

	// KindTransientSession is a short-lived property bag used to stash
	// protocol state between two HTTP legs. Not a credential.
	KindTransientSession Kind = "TST"
)

// Authentication is the verified principal produced by the (external)
// authentication subsystem. Opaque to the ticketing core apart from the
// remember-me trait, which drives expiration-policy selection at creation.
type Authentication struct {
	// Principal is the authenticated subject.
	Principal string `json:"principal"`

	// Attributes carries principal metadata released by the
	// authentication subsystem.
	Attributes map[string]any `json:"attributes,omitempty"`

	// RememberMe is true when the originating credential was flagged
	// "remember me".
	RememberMe bool `json:"remember_me,omitempty"`
}

// Service identifies a target application a ticket is bound to.
type Service struct {
	// ID is the service identifier, typically its URL.
	ID string `json:"id"`
}

// Ticket is the behavior shared by every issued token.
type Ticket interface {
	// ID returns the globally unique, prefix-tagged ticket id.
	ID() string

	// Kind returns the ticket kind.
	Kind() Kind

	// CreationTime returns when the ticket was created.
	CreationTime() time.Time

	// LastTimeUsed returns when the ticket was last used. Never earlier
	// than CreationTime.
	LastTimeUsed() time.Time

	// CountOfUses returns how many times the ticket has been used.
	CountOfUses() int

	// ExpirationPolicy returns the policy fixed at creation time.
	ExpirationPolicy() expiration.Policy

	// State returns the usage snapshot for policy evaluation.
	State() *expiration.State

	// IsExpiredAt reports whether the ticket is expired at the given
	// instant, per its expiration policy.
	IsExpiredAt(now time.Time) bool

	// MarkUsed records one use at the given instant.
	MarkUsed(now time.Time)

	// Clone returns a deep copy. Registries hand out clones so callers
	// cannot mutate stored state through aliases.
	Clone() Ticket
}

// header carries the state common to all ticket kinds.
type header struct {
	id       string
	kind     Kind
	created  time.Time
	lastUsed time.Time
	uses     int
	policy   expiration.Policy
}

func newHeader(id string, kind Kind, policy expiration.Policy, now time.Time) header {
	return header{
		id:       id,
		kind:     kind,
		created:  now,
		lastUsed: now,
		policy:   policy,
	}
}

func (h *header) ID() string                           { return h.id }
func (h *header) Kind() Kind                           { return h.kind }
func (h *header) CreationTime() time.Time              { return h.created }
func (h *header) LastTimeUsed() time.Time              { return h.lastUsed }
func (h *header) CountOfUses() int                     { return h.uses }
func (h *header) ExpirationPolicy() expiration.Policy { return h.policy }

// State returns the usage snapshot for policy evaluation.
func (h *header) State() *expiration.State {
	return &expiration.State{
		CreationTime: h.created,
		LastTimeUsed: h.lastUsed,
		CountOfUses:  h.uses,
	}
}

// IsExpiredAt delegates to the expiration policy. A ticket without a policy
// is always expired.
func (h *header) IsExpiredAt(now time.Time) bool {
	if h.policy == nil {
		return true
	}
	return h.policy.IsExpiredAt(h.State(), now)
}

// MarkUsed records one use. The last-used instant never moves backwards.
func (h *header) MarkUsed(now time.Time) {
	h.uses++
	if now.After(h.lastUsed) {
		h.lastUsed = now
	}
}

// IsExpired evaluates a ticket against the wall clock. A nil ticket is
// always expired, matching the registry contract where an absent lookup and
// an expired ticket are treated alike by callers.
func IsExpired(t Ticket) bool {
	if t == nil {
		return true
	}
	return t.IsExpiredAt(time.Now())
}
