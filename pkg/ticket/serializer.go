// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// storedHeader is the serializable form of the common ticket state.
type storedHeader struct {
	ID           string          `json:"id"`
	CreationTime time.Time       `json:"creation_time"`
	LastTimeUsed time.Time       `json:"last_time_used"`
	CountOfUses  int             `json:"count_of_uses"`
	Policy       json.RawMessage `json:"expiration_policy"`
}

func (h *header) stored() (storedHeader, error) {
	policy, err := expiration.Encode(h.policy)
	if err != nil {
		return storedHeader{}, fmt.Errorf("failed to encode expiration policy for %s: %w", h.id, err)
	}
	return storedHeader{
		ID:           h.id,
		CreationTime: h.created,
		LastTimeUsed: h.lastUsed,
		CountOfUses:  h.uses,
		Policy:       policy,
	}, nil
}

func (s storedHeader) restore(kind Kind) (header, error) {
	policy, err := expiration.Decode(s.Policy)
	if err != nil {
		return header{}, fmt.Errorf("failed to decode expiration policy for %s: %w", s.ID, err)
	}
	return header{
		id:       s.ID,
		kind:     kind,
		created:  s.CreationTime,
		lastUsed: s.LastTimeUsed,
		uses:     s.CountOfUses,
		policy:   policy,
	}, nil
}

// storedGrantingTicket is the serializable form of a TGT/PGT.
type storedGrantingTicket struct {
	storedHeader
	Authentication Authentication     `json:"authentication"`
	ProxiedBy      *Service           `json:"proxied_by,omitempty"`
	Services       map[string]Service `json:"services"`
	RootID         string             `json:"root_id"`
}

// storedServiceTicket is the serializable form of an ST/PT.
type storedServiceTicket struct {
	storedHeader
	GrantingTicketID string   `json:"granting_ticket_id"`
	Service          Service  `json:"service"`
	FromNewLogin     bool     `json:"from_new_login,omitempty"`
	ProxiedBy        *Service `json:"proxied_by,omitempty"`
}

// storedTransientTicket is the serializable form of a TST.
type storedTransientTicket struct {
	storedHeader
	Properties map[string]any `json:"properties"`
}

// serializedTicket is the envelope wrapping every serialized ticket: the
// kind as discriminator plus the kind-specific payload.
type serializedTicket struct {
	Kind   Kind            `json:"kind"`
	Ticket json.RawMessage `json:"ticket"`
}

// codec serializes and deserializes one ticket kind.
type codec struct {
	encode func(Ticket) (any, error)
	decode func(json.RawMessage, Kind) (Ticket, error)
}

// SerializationManager converts tickets to and from opaque text, for
// registries that persist tickets as strings. Every ticket kind registers a
// codec keyed by its kind name at construction time; the codec set is
// immutable afterwards.
type SerializationManager struct {
	codecs map[Kind]codec
}

// NewSerializationManager builds a manager with codecs for all five ticket
// kinds.
func NewSerializationManager() *SerializationManager {
	grantingCodec := codec{
		encode: func(t Ticket) (any, error) {
			gt, ok := t.(*GrantingTicket)
			if !ok {
				return nil, fmt.Errorf("expected granting ticket, got %T", t)
			}
			h, err := gt.header.stored()
			if err != nil {
				return nil, err
			}
			return storedGrantingTicket{
				storedHeader:   h,
				Authentication: gt.auth,
				ProxiedBy:      gt.proxiedBy,
				Services:       gt.services,
				RootID:         gt.rootID,
			}, nil
		},
		decode: func(raw json.RawMessage, kind Kind) (Ticket, error) {
			var s storedGrantingTicket
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("failed to unmarshal granting ticket: %w", err)
			}
			h, err := s.storedHeader.restore(kind)
			if err != nil {
				return nil, err
			}
			services := s.Services
			if services == nil {
				services = make(map[string]Service)
			}
			return &GrantingTicket{
				header:    h,
				auth:      s.Authentication,
				proxiedBy: s.ProxiedBy,
				services:  services,
				rootID:    s.RootID,
			}, nil
		},
	}

	serviceCodec := codec{
		encode: func(t Ticket) (any, error) {
			st, ok := t.(*ServiceTicket)
			if !ok {
				return nil, fmt.Errorf("expected service ticket, got %T", t)
			}
			h, err := st.header.stored()
			if err != nil {
				return nil, err
			}
			return storedServiceTicket{
				storedHeader:     h,
				GrantingTicketID: st.grantingID,
				Service:          st.service,
				FromNewLogin:     st.fromNewLogin,
				ProxiedBy:        st.proxiedBy,
			}, nil
		},
		decode: func(raw json.RawMessage, kind Kind) (Ticket, error) {
			var s storedServiceTicket
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("failed to unmarshal service ticket: %w", err)
			}
			h, err := s.storedHeader.restore(kind)
			if err != nil {
				return nil, err
			}
			return &ServiceTicket{
				header:       h,
				grantingID:   s.GrantingTicketID,
				service:      s.Service,
				fromNewLogin: s.FromNewLogin,
				proxiedBy:    s.ProxiedBy,
			}, nil
		},
	}

	transientCodec := codec{
		encode: func(t Ticket) (any, error) {
			tst, ok := t.(*TransientSessionTicket)
			if !ok {
				return nil, fmt.Errorf("expected transient session ticket, got %T", t)
			}
			h, err := tst.header.stored()
			if err != nil {
				return nil, err
			}
			return storedTransientTicket{
				storedHeader: h,
				Properties:   tst.properties,
			}, nil
		},
		decode: func(raw json.RawMessage, kind Kind) (Ticket, error) {
			var s storedTransientTicket
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transient session ticket: %w", err)
			}
			h, err := s.storedHeader.restore(kind)
			if err != nil {
				return nil, err
			}
			properties := s.Properties
			if properties == nil {
				properties = make(map[string]any)
			}
			return &TransientSessionTicket{
				header:     h,
				properties: properties,
			}, nil
		},
	}

	return &SerializationManager{
		codecs: map[Kind]codec{
			KindTicketGranting:   grantingCodec,
			KindProxyGranting:    grantingCodec,
			KindService:          serviceCodec,
			KindProxy:            serviceCodec,
			KindTransientSession: transientCodec,
		},
	}
}

// Serialize converts a ticket to its opaque text form.
func (m *SerializationManager) Serialize(t Ticket) (string, error) {
	if t == nil {
		return "", fmt.Errorf("cannot serialize nil ticket")
	}
	c, ok := m.codecs[t.Kind()]
	if !ok {
		return "", fmt.Errorf("no serializer registered for ticket kind %q", t.Kind())
	}
	stored, err := c.encode(t)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", t.ID(), err)
	}
	data, err := json.Marshal(serializedTicket{Kind: t.Kind(), Ticket: raw})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket envelope: %w", err)
	}
	return string(data), nil
}

// Deserialize reconstructs a ticket of the expected kind from its text form.
// A kind mismatch between the envelope and the expectation is an error.
func (m *SerializationManager) Deserialize(data string, kind Kind) (Ticket, error) {
	var env serializedTicket
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket envelope: %w", err)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("expected ticket kind %q, envelope holds %q", kind, env.Kind)
	}
	c, ok := m.codecs[env.Kind]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for ticket kind %q", env.Kind)
	}
	return c.decode(env.Ticket, env.Kind)
}

// DeserializeAny reconstructs a ticket using the kind recorded in the
// envelope.
func (m *SerializationManager) DeserializeAny(data string) (Ticket, error) {
	var env serializedTicket
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket envelope: %w", err)
	}
	c, ok := m.codecs[env.Kind]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for ticket kind %q", env.Kind)
	}
	return c.decode(env.Ticket, env.Kind)
}
