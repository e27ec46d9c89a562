// SPDX-License-Identifier: Apache-2.0

// Package cas implements the central authentication service: the orchestrator
// that grants, validates, chains, and revokes tickets against the registry
// and catalog. It holds no state of its own; concurrency correctness is the
// registry's concern.
package cas

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apereo/cas-sub078/pkg/errors"
	"github.com/apereo/cas-sub078/pkg/logger"
	"github.com/apereo/cas-sub078/pkg/registry"
	"github.com/apereo/cas-sub078/pkg/ticket"
	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// LogoutNotification describes one single-logout delivery: the session that
// ended and the service to inform. Delivery itself is an external
// collaborator's job.
type LogoutNotification struct {
	// TicketGrantingTicketID is the destroyed session's TGT id.
	TicketGrantingTicketID string

	// Service is the application to notify.
	Service ticket.Service

	// Principal is the authenticated subject the session belonged to.
	Principal string
}

// LogoutNotifier delivers logout notifications to services. Implementations
// are external; delivery failures are logged, never propagated, since the
// session is already gone.
type LogoutNotifier interface {
	Notify(ctx context.Context, n LogoutNotification) error
}

// CentralAuthenticationService orchestrates the ticket lifecycle.
type CentralAuthenticationService struct {
	registry registry.Registry
	catalog  *ticket.Catalog
	idgen    ticket.IDGenerator
	notifier LogoutNotifier
}

// Option configures a CentralAuthenticationService.
type Option func(*CentralAuthenticationService)

// WithIDGenerator overrides the default ticket id generator.
func WithIDGenerator(gen ticket.IDGenerator) Option {
	return func(s *CentralAuthenticationService) { s.idgen = gen }
}

// WithLogoutNotifier sets the single-logout delivery collaborator.
func WithLogoutNotifier(n LogoutNotifier) Option {
	return func(s *CentralAuthenticationService) { s.notifier = n }
}

// New creates the orchestrator over a registry and catalog.
func New(reg registry.Registry, catalog *ticket.Catalog, opts ...Option) *CentralAuthenticationService {
	s := &CentralAuthenticationService{
		registry: reg,
		catalog:  catalog,
		idgen:    ticket.DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newPolicy builds the expiration policy for a new ticket of the given kind,
// resolving remember-me delegation once, at creation time.
func (s *CentralAuthenticationService) newPolicy(def ticket.Definition, rememberMe bool) expiration.Policy {
	policy := def.PolicyBuilder()
	if delegating, ok := policy.(*expiration.RememberMeDelegating); ok {
		policy = delegating.Select(rememberMe)
	}
	return policy
}

// newTicketID mints an id for the given kind.
func (s *CentralAuthenticationService) newTicketID(def ticket.Definition) (string, error) {
	id, err := s.idgen.NewTicketID(def.Prefix)
	if err != nil {
		return "", errors.NewTicketCreationError(
			fmt.Sprintf("failed to generate %s ticket id", def.Kind), err)
	}
	return id, nil
}

// definition resolves a kind's catalog entry. A missing entry is a
// configuration defect, reported as a ticket_creation error.
func (s *CentralAuthenticationService) definition(kind ticket.Kind) (ticket.Definition, error) {
	def, ok := s.catalog.ByKind(kind)
	if !ok {
		return ticket.Definition{}, errors.NewTicketCreationError(
			fmt.Sprintf("no catalog definition for ticket kind %q", kind), nil)
	}
	return def, nil
}

func isGrantingTicket(t ticket.Ticket) bool {
	_, ok := t.(*ticket.GrantingTicket)
	return ok
}

func isServiceTicket(t ticket.Ticket) bool {
	_, ok := t.(*ticket.ServiceTicket)
	return ok
}

func isTransientTicket(t ticket.Ticket) bool {
	_, ok := t.(*ticket.TransientSessionTicket)
	return ok
}

// getGrantingTicket fetches a live granting ticket. Absent, type-mismatched,
// or expired tickets yield an invalid_ticket error; an expired ticket is also
// removed from the registry, best effort.
func (s *CentralAuthenticationService) getGrantingTicket(ctx context.Context, id string) (*ticket.GrantingTicket, error) {
	t, err := s.registry.GetTicket(ctx, id, isGrantingTicket)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewInvalidTicketError(fmt.Sprintf("ticket %s is absent or expired", id), nil)
	}
	if t.IsExpiredAt(time.Now()) {
		s.deleteExpired(ctx, id)
		return nil, errors.NewInvalidTicketError(fmt.Sprintf("ticket %s is absent or expired", id), nil)
	}
	return t.(*ticket.GrantingTicket), nil
}

// getServiceTicket fetches a live service or proxy ticket, with the same
// failure semantics as getGrantingTicket.
func (s *CentralAuthenticationService) getServiceTicket(ctx context.Context, id string) (*ticket.ServiceTicket, error) {
	t, err := s.registry.GetTicket(ctx, id, isServiceTicket)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewInvalidTicketError(fmt.Sprintf("ticket %s is absent or expired", id), nil)
	}
	if t.IsExpiredAt(time.Now()) {
		s.deleteExpired(ctx, id)
		return nil, errors.NewInvalidTicketError(fmt.Sprintf("ticket %s is absent or expired", id), nil)
	}
	return t.(*ticket.ServiceTicket), nil
}

func (s *CentralAuthenticationService) deleteExpired(ctx context.Context, id string) {
	if _, err := s.registry.DeleteTicket(ctx, id); err != nil {
		logger.Warnf("Failed to remove expired ticket %s: %v", id, err)
	}
}

// GrantTicketGrantingTicket creates a session root for a verified
// authentication. It fails only on configuration or storage failure.
func (s *CentralAuthenticationService) GrantTicketGrantingTicket(ctx context.Context, auth ticket.Authentication) (*ticket.GrantingTicket, error) {
	def, err := s.definition(ticket.KindTicketGranting)
	if err != nil {
		return nil, err
	}
	id, err := s.newTicketID(def)
	if err != nil {
		return nil, err
	}

	tgt := ticket.NewTicketGrantingTicket(id, auth, s.newPolicy(def, auth.RememberMe), time.Now())
	if err := s.registry.AddTicket(ctx, tgt); err != nil {
		return nil, err
	}

	logger.Debugw("Granted ticket-granting ticket", "principal", auth.Principal)
	return tgt, nil
}

// GrantServiceTicket mints a service ticket off a live TGT. The service is
// registered in the TGT's service map for logout fan-out, and the TGT's usage
// is bumped before the check-then-mint window closes on the next grant.
func (s *CentralAuthenticationService) GrantServiceTicket(ctx context.Context, tgtID string, service ticket.Service, fromNewLogin bool) (*ticket.ServiceTicket, error) {
	tgt, err := s.getGrantingTicket(ctx, tgtID)
	if err != nil {
		return nil, err
	}

	def, err := s.definition(ticket.KindService)
	if err != nil {
		return nil, err
	}
	id, err := s.newTicketID(def)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	st := ticket.NewServiceTicket(id, tgt.ID(), service, fromNewLogin,
		s.newPolicy(def, tgt.Authentication().RememberMe), now)

	tgt.AddService(service)
	tgt.MarkUsed(now)
	if _, err := s.registry.UpdateTicket(ctx, tgt); err != nil {
		return nil, err
	}
	if err := s.registry.AddTicket(ctx, st); err != nil {
		return nil, err
	}

	logger.Debugw("Granted service ticket", "service", service.ID)
	return st, nil
}

// ValidateServiceTicket consumes a service or proxy ticket presented by a
// service and returns the session's authentication. The ticket is single-use:
// it is deleted on success unless its policy is a multi-use
// MultiTimeUseOrTimeout, in which case its usage is bumped instead.
func (s *CentralAuthenticationService) ValidateServiceTicket(ctx context.Context, stID string, service ticket.Service) (ticket.Authentication, error) {
	st, err := s.getServiceTicket(ctx, stID)
	if err != nil {
		return ticket.Authentication{}, err
	}
	if st.Service().ID != service.ID {
		return ticket.Authentication{}, errors.NewUnmatchedServiceError(
			fmt.Sprintf("ticket %s was not issued for service %s", stID, service.ID), nil)
	}

	granting, err := s.getGrantingTicket(ctx, st.GrantingTicketID())
	if err != nil {
		return ticket.Authentication{}, err
	}
	auth := granting.Authentication()

	if multiUse, ok := st.ExpirationPolicy().(*expiration.MultiTimeUseOrTimeout); ok && multiUse.NumberOfUses > 1 {
		st.MarkUsed(time.Now())
		if _, err := s.registry.UpdateTicket(ctx, st); err != nil {
			return ticket.Authentication{}, err
		}
	} else {
		if _, err := s.registry.DeleteTicket(ctx, st.ID()); err != nil {
			return ticket.Authentication{}, err
		}
	}

	logger.Debugw("Validated service ticket", "service", service.ID, "principal", auth.Principal)
	return auth, nil
}

// CreateProxyGrantingTicket exchanges a validated service or proxy ticket for
// a PGT, letting the holder authenticate onward on the user's behalf. The PGT
// roots at the originating TGT so revocation reaches the whole chain.
func (s *CentralAuthenticationService) CreateProxyGrantingTicket(ctx context.Context, stID string, proxyAuth ticket.Authentication) (*ticket.GrantingTicket, error) {
	st, err := s.getServiceTicket(ctx, stID)
	if err != nil {
		return nil, err
	}
	granting, err := s.getGrantingTicket(ctx, st.GrantingTicketID())
	if err != nil {
		return nil, err
	}

	def, err := s.definition(ticket.KindProxyGranting)
	if err != nil {
		return nil, err
	}
	id, err := s.newTicketID(def)
	if err != nil {
		return nil, err
	}

	pgt := ticket.NewProxyGrantingTicket(id, proxyAuth, st.Service(), granting.RootID(),
		s.newPolicy(def, proxyAuth.RememberMe), time.Now())
	if err := s.registry.AddTicket(ctx, pgt); err != nil {
		return nil, err
	}

	logger.Debugw("Created proxy-granting ticket", "proxied_by", st.Service().ID, "root", granting.RootID())
	return pgt, nil
}

// GrantProxyTicket mints a proxy ticket off a live PGT. The PT carries the
// proxying service's identity so the target can attribute the call.
func (s *CentralAuthenticationService) GrantProxyTicket(ctx context.Context, pgtID string, service ticket.Service) (*ticket.ServiceTicket, error) {
	pgt, err := s.getGrantingTicket(ctx, pgtID)
	if err != nil {
		return nil, err
	}
	proxiedBy := pgt.ProxiedBy()
	if proxiedBy == nil {
		return nil, errors.NewInvalidTicketError(
			fmt.Sprintf("ticket %s is not a proxy-granting ticket", pgtID), nil)
	}

	def, err := s.definition(ticket.KindProxy)
	if err != nil {
		return nil, err
	}
	id, err := s.newTicketID(def)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	pt := ticket.NewProxyTicket(id, pgt.ID(), service, *proxiedBy,
		s.newPolicy(def, pgt.Authentication().RememberMe), now)

	pgt.AddService(service)
	pgt.MarkUsed(now)
	if _, err := s.registry.UpdateTicket(ctx, pgt); err != nil {
		return nil, err
	}
	if err := s.registry.AddTicket(ctx, pt); err != nil {
		return nil, err
	}

	logger.Debugw("Granted proxy ticket", "service", service.ID, "proxied_by", proxiedBy.ID)
	return pt, nil
}

// DestroyTicketGrantingTicket ends a session: it deletes the TGT and returns
// one logout notification per service in its map, sorted by service id for
// deterministic fan-out. When a notifier is configured, each notification is
// also delivered synchronously; delivery failures are logged and do not fail
// the destruction. Destroying an already-destroyed session is a no-op
// success with no notifications.
func (s *CentralAuthenticationService) DestroyTicketGrantingTicket(ctx context.Context, tgtID string) ([]LogoutNotification, error) {
	t, err := s.registry.GetTicket(ctx, tgtID, isGrantingTicket)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	tgt := t.(*ticket.GrantingTicket)

	services := tgt.Services()
	notifications := make([]LogoutNotification, 0, len(services))
	for _, svc := range services {
		notifications = append(notifications, LogoutNotification{
			TicketGrantingTicketID: tgt.ID(),
			Service:                svc,
			Principal:              tgt.Authentication().Principal,
		})
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].Service.ID < notifications[j].Service.ID
	})

	if _, err := s.registry.DeleteTicket(ctx, tgtID); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		for _, n := range notifications {
			if err := s.notifier.Notify(ctx, n); err != nil {
				logger.Warnf("Logout notification to %s failed: %v", n.Service.ID, err)
			}
		}
	}

	logger.Infow("Destroyed ticket-granting ticket",
		"principal", tgt.Authentication().Principal, "services", len(notifications))
	return notifications, nil
}

// MintTransientSessionTicket stashes protocol state under a fresh TST id.
func (s *CentralAuthenticationService) MintTransientSessionTicket(ctx context.Context, properties map[string]any) (*ticket.TransientSessionTicket, error) {
	def, err := s.definition(ticket.KindTransientSession)
	if err != nil {
		return nil, err
	}
	id, err := s.newTicketID(def)
	if err != nil {
		return nil, err
	}

	tst := ticket.NewTransientSessionTicket(id, properties, def.PolicyBuilder(), time.Now())
	if err := s.registry.AddTicket(ctx, tst); err != nil {
		return nil, err
	}
	return tst, nil
}

// GetTransientSessionTicket retrieves previously stashed protocol state.
func (s *CentralAuthenticationService) GetTransientSessionTicket(ctx context.Context, id string) (*ticket.TransientSessionTicket, error) {
	t, err := s.registry.GetTicket(ctx, id, isTransientTicket)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewInvalidTicketError(fmt.Sprintf("ticket %s is absent or expired", id), nil)
	}
	if t.IsExpiredAt(time.Now()) {
		s.deleteExpired(ctx, id)
		return nil, errors.NewInvalidTicketError(fmt.Sprintf("ticket %s is absent or expired", id), nil)
	}
	return t.(*ticket.TransientSessionTicket), nil
}
