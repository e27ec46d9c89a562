// SPDX-License-Identifier: Apache-2.0

// Package expiration implements the expiration-policy engine for issued
// tickets. Policies are a closed set of pure strategies: they decide, from a
// snapshot of a ticket's timing and usage metadata, whether the ticket is
// still valid. Policies never mutate ticket state and are safe to evaluate
// concurrently.
package expiration

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the usage snapshot a policy is evaluated against.
type State struct {
	// CreationTime is when the ticket was created.
	CreationTime time.Time `json:"creation_time"`

	// LastTimeUsed is when the ticket was last used. Never earlier than
	// CreationTime.
	LastTimeUsed time.Time `json:"last_time_used"`

	// CountOfUses is how many times the ticket has been used.
	CountOfUses int `json:"count_of_uses"`
}

// Policy decides whether a ticket snapshot has expired.
//
// Implementations must be pure functions of the snapshot and the supplied
// clock instant: no internal state, no mutation of the snapshot.
type Policy interface {
	// Name returns the stable identifier used for serialization.
	Name() string

	// IsExpiredAt reports whether the snapshot is expired at the given
	// instant. A nil snapshot is always expired.
	IsExpiredAt(s *State, now time.Time) bool

	// TTL returns a store-eviction hint: how long the backing store may
	// keep the ticket before evicting it on its own. Zero means no hint
	// (the store must not evict on time). Eviction is best effort; callers
	// still check IsExpiredAt after every lookup.
	TTL(s *State, now time.Time) time.Duration
}

// IsExpired evaluates the policy against the wall clock. A nil policy or a
// nil snapshot is always expired.
func IsExpired(p Policy, s *State) bool {
	if p == nil || s == nil {
		return true
	}
	return p.IsExpiredAt(s, time.Now())
}

// Policy name constants, used as the serialization discriminator.
const (
	NameNeverExpires           = "never-expires"
	NameAlwaysExpires          = "always-expires"
	NameIdleTimeout            = "idle-timeout"
	NameHardTimeout            = "hard-timeout"
	NameMultiTimeUseOrTimeout  = "multi-time-use-or-timeout"
	NameThrottledUseAndTimeout = "throttled-use-and-timeout"
	NameTicketGranting         = "ticket-granting"
	NameRememberMeDelegating   = "remember-me-delegating"
)

// envelope is the serialized form of a policy: a discriminator plus the
// policy's own fields.
type envelope struct {
	Type   string          `json:"type"`
	Policy json.RawMessage `json:"policy,omitempty"`
}

// Encode serializes a policy to its JSON envelope.
func Encode(p Policy) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot encode nil policy")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy %q: %w", p.Name(), err)
	}
	return json.Marshal(envelope{Type: p.Name(), Policy: raw})
}

// Decode deserializes a policy from its JSON envelope. Unknown policy names
// are an error: the policy set is closed so evaluation stays exhaustively
// testable.
func Decode(data []byte) (Policy, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy envelope: %w", err)
	}

	var p Policy
	switch env.Type {
	case NameNeverExpires:
		p = &NeverExpires{}
	case NameAlwaysExpires:
		p = &AlwaysExpires{}
	case NameIdleTimeout:
		p = &IdleTimeout{}
	case NameHardTimeout:
		p = &HardTimeout{}
	case NameMultiTimeUseOrTimeout:
		p = &MultiTimeUseOrTimeout{}
	case NameThrottledUseAndTimeout:
		p = &ThrottledUseAndTimeout{}
	case NameTicketGranting:
		p = &TicketGranting{}
	case NameRememberMeDelegating:
		p = &RememberMeDelegating{}
	default:
		return nil, fmt.Errorf("unknown expiration policy %q", env.Type)
	}

	if len(env.Policy) > 0 {
		if err := json.Unmarshal(env.Policy, p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy %q: %w", env.Type, err)
		}
	}
	return p, nil
}
