// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"maps"
	"time"

	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// ServiceTicket is the state behind an ST or a PT: a short-lived token bound
// to one target service and to the granting ticket that minted it.
type ServiceTicket struct {
	header
	grantingID   string
	service      Service
	fromNewLogin bool
	proxiedBy    *Service
}

// NewServiceTicket creates an ST referencing its parent TGT. fromNewLogin is
// true only when the ticket is minted at the moment of primary credential
// validation.
func NewServiceTicket(id, grantingID string, svc Service, fromNewLogin bool, policy expiration.Policy, now time.Time) *ServiceTicket {
	return &ServiceTicket{
		header:       newHeader(id, KindService, policy, now),
		grantingID:   grantingID,
		service:      svc,
		fromNewLogin: fromNewLogin,
	}
}

// NewProxyTicket creates a PT minted from a PGT. proxiedBy identifies the
// proxying service so the target can attribute the call.
func NewProxyTicket(id, grantingID string, svc Service, proxiedBy Service, policy expiration.Policy, now time.Time) *ServiceTicket {
	return &ServiceTicket{
		header:     newHeader(id, KindProxy, policy, now),
		grantingID: grantingID,
		service:    svc,
		proxiedBy:  &proxiedBy,
	}
}

// GrantingTicketID returns the id of the granting ticket this ticket was
// minted from.
func (t *ServiceTicket) GrantingTicketID() string { return t.grantingID }

// Service returns the target service this ticket was minted for.
func (t *ServiceTicket) Service() Service { return t.service }

// FromNewLogin reports whether this ticket was minted at the moment of
// primary credential validation rather than from an existing session.
func (t *ServiceTicket) FromNewLogin() bool { return t.fromNewLogin }

// ProxiedBy returns the proxying service for a PT, or nil for a plain ST.
func (t *ServiceTicket) ProxiedBy() *Service { return t.proxiedBy }

// Clone implements Ticket.
func (t *ServiceTicket) Clone() Ticket {
	clone := *t
	if t.proxiedBy != nil {
		proxiedBy := *t.proxiedBy
		clone.proxiedBy = &proxiedBy
	}
	return &clone
}

var _ Ticket = (*ServiceTicket)(nil)

// TransientSessionTicket is a short-lived key/value property bag keyed by a
// single ticket id, used to stash protocol state between two HTTP legs. It
// is not a credential.
type TransientSessionTicket struct {
	header
	properties map[string]any
}

// NewTransientSessionTicket creates a TST holding the given properties.
func NewTransientSessionTicket(id string, properties map[string]any, policy expiration.Policy, now time.Time) *TransientSessionTicket {
	if properties == nil {
		properties = make(map[string]any)
	}
	return &TransientSessionTicket{
		header:     newHeader(id, KindTransientSession, policy, now),
		properties: properties,
	}
}

// Properties returns a copy of the property bag.
func (t *TransientSessionTicket) Properties() map[string]any {
	return maps.Clone(t.properties)
}

// Property returns one property value.
func (t *TransientSessionTicket) Property(key string) (any, bool) {
	v, ok := t.properties[key]
	return v, ok
}

// Clone implements Ticket.
func (t *TransientSessionTicket) Clone() Ticket {
	clone := *t
	clone.properties = maps.Clone(t.properties)
	return &clone
}

var _ Ticket = (*TransientSessionTicket)(nil)
