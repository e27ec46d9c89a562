// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"maps"
	"time"

	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// GrantingTicket is the state behind a TGT or a PGT: the verified
// authentication, the services descendant tickets were issued to, and the
// root of the proxy chain it belongs to.
type GrantingTicket struct {
	header
	auth      Authentication
	proxiedBy *Service
	services  map[string]Service
	rootID    string
}

// NewTicketGrantingTicket creates a root TGT for the given authentication.
func NewTicketGrantingTicket(id string, auth Authentication, policy expiration.Policy, now time.Time) *GrantingTicket {
	return &GrantingTicket{
		header:   newHeader(id, KindTicketGranting, policy, now),
		auth:     auth,
		services: make(map[string]Service),
		rootID:   id,
	}
}

// NewProxyGrantingTicket creates a PGT obtained via proxy authentication.
// proxiedBy is the service that requested the delegation; rootID is the id
// of the origin TGT at the head of the proxy chain.
func NewProxyGrantingTicket(id string, auth Authentication, proxiedBy Service, rootID string, policy expiration.Policy, now time.Time) *GrantingTicket {
	return &GrantingTicket{
		header:    newHeader(id, KindProxyGranting, policy, now),
		auth:      auth,
		proxiedBy: &proxiedBy,
		services:  make(map[string]Service),
		rootID:    rootID,
	}
}

// Authentication returns the verified authentication held by this ticket.
func (t *GrantingTicket) Authentication() Authentication { return t.auth }

// ProxiedBy returns the service this ticket was delegated through, or nil
// for a root TGT.
func (t *GrantingTicket) ProxiedBy() *Service { return t.proxiedBy }

// RootID returns the id of the origin TGT of the proxy chain. For a root
// TGT this is the ticket's own id.
func (t *GrantingTicket) RootID() string { return t.rootID }

// IsRoot reports whether this ticket is the root of its session.
func (t *GrantingTicket) IsRoot() bool { return t.rootID == t.id }

// AddService registers a service a descendant ticket was issued to. The
// registration is idempotent per service id, last write wins. The service
// map drives logout fan-out on destruction.
func (t *GrantingTicket) AddService(svc Service) {
	t.services[svc.ID] = svc
}

// Services returns a copy of the service map.
func (t *GrantingTicket) Services() map[string]Service {
	return maps.Clone(t.services)
}

// Clone implements Ticket.
func (t *GrantingTicket) Clone() Ticket {
	clone := *t
	clone.services = maps.Clone(t.services)
	if t.proxiedBy != nil {
		proxiedBy := *t.proxiedBy
		clone.proxiedBy = &proxiedBy
	}
	clone.auth.Attributes = maps.Clone(t.auth.Attributes)
	return &clone
}

var _ Ticket = (*GrantingTicket)(nil)
