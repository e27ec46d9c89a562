// SPDX-License-Identifier: Apache-2.0

package expiration

import (
	"encoding/json"
	"fmt"
	"time"
)

// NeverExpires is the sentinel policy for unlimited-lifetime deployments.
type NeverExpires struct{}

// Name implements Policy.
func (*NeverExpires) Name() string { return NameNeverExpires }

// IsExpiredAt implements Policy. Only a nil snapshot is expired.
func (*NeverExpires) IsExpiredAt(s *State, _ time.Time) bool { return s == nil }

// TTL implements Policy. The store must never evict on time.
func (*NeverExpires) TTL(*State, time.Time) time.Duration { return 0 }

// AlwaysExpires is the sentinel policy substituted when a configured TTL is
// zero or negative.
type AlwaysExpires struct{}

// Name implements Policy.
func (*AlwaysExpires) Name() string { return NameAlwaysExpires }

// IsExpiredAt implements Policy.
func (*AlwaysExpires) IsExpiredAt(*State, time.Time) bool { return true }

// TTL implements Policy.
func (*AlwaysExpires) TTL(*State, time.Time) time.Duration { return time.Second }

// IdleTimeout expires a ticket once it has been idle for TimeToKill: a pure
// sliding window from last use.
type IdleTimeout struct {
	TimeToKill time.Duration `json:"time_to_kill"`
}

// NewIdleTimeout builds an IdleTimeout policy, substituting AlwaysExpires
// when the window is not positive.
func NewIdleTimeout(timeToKill time.Duration) Policy {
	if timeToKill <= 0 {
		return &AlwaysExpires{}
	}
	return &IdleTimeout{TimeToKill: timeToKill}
}

// Name implements Policy.
func (*IdleTimeout) Name() string { return NameIdleTimeout }

// IsExpiredAt implements Policy.
func (p *IdleTimeout) IsExpiredAt(s *State, now time.Time) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.LastTimeUsed) >= p.TimeToKill
}

// TTL implements Policy. The hint is the full idle window; the registry
// refreshes it on every update, which reproduces the sliding behavior in
// stores with native TTL eviction.
func (p *IdleTimeout) TTL(*State, time.Time) time.Duration { return p.TimeToKill }

// HardTimeout expires a ticket a fixed interval after creation, regardless
// of use.
type HardTimeout struct {
	MaxTimeToLive time.Duration `json:"max_time_to_live"`
}

// NewHardTimeout builds a HardTimeout policy, substituting AlwaysExpires
// when the lifetime is not positive.
func NewHardTimeout(maxTimeToLive time.Duration) Policy {
	if maxTimeToLive <= 0 {
		return &AlwaysExpires{}
	}
	return &HardTimeout{MaxTimeToLive: maxTimeToLive}
}

// Name implements Policy.
func (*HardTimeout) Name() string { return NameHardTimeout }

// IsExpiredAt implements Policy.
func (p *HardTimeout) IsExpiredAt(s *State, now time.Time) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.CreationTime) >= p.MaxTimeToLive
}

// TTL implements Policy.
func (p *HardTimeout) TTL(s *State, now time.Time) time.Duration {
	if s == nil {
		return time.Second
	}
	remaining := s.CreationTime.Add(p.MaxTimeToLive).Sub(now)
	if remaining <= 0 {
		return time.Second
	}
	return remaining
}

// MultiTimeUseOrTimeout expires a ticket after a bounded number of uses or a
// sliding idle window, whichever bound hits first.
//
// The use bound is inclusive at check time: a ticket that has already been
// used NumberOfUses times is expired, so the (N+1)-th consumer is refused.
type MultiTimeUseOrTimeout struct {
	NumberOfUses int           `json:"number_of_uses"`
	TimeToKill   time.Duration `json:"time_to_kill"`
}

// NewMultiTimeUseOrTimeout builds a MultiTimeUseOrTimeout policy,
// substituting AlwaysExpires when either bound is not positive.
func NewMultiTimeUseOrTimeout(numberOfUses int, timeToKill time.Duration) Policy {
	if numberOfUses <= 0 || timeToKill <= 0 {
		return &AlwaysExpires{}
	}
	return &MultiTimeUseOrTimeout{NumberOfUses: numberOfUses, TimeToKill: timeToKill}
}

// Name implements Policy.
func (*MultiTimeUseOrTimeout) Name() string { return NameMultiTimeUseOrTimeout }

// IsExpiredAt implements Policy.
func (p *MultiTimeUseOrTimeout) IsExpiredAt(s *State, now time.Time) bool {
	if s == nil {
		return true
	}
	if s.CountOfUses >= p.NumberOfUses {
		return true
	}
	return now.Sub(s.LastTimeUsed) >= p.TimeToKill
}

// TTL implements Policy.
func (p *MultiTimeUseOrTimeout) TTL(*State, time.Time) time.Duration { return p.TimeToKill }

// ThrottledUseAndTimeout combines a sliding idle window with a cooldown gap
// between uses. Reuse inside the cooldown window is treated as abuse, not as
// a fresh valid use: a ticket observed again within MinGapBetweenUses of its
// last use is reported expired, even if that last use was its very first.
// Downstream cleanup relies on this to evict racing duplicate uses.
type ThrottledUseAndTimeout struct {
	TimeToKill        time.Duration `json:"time_to_kill"`
	MinGapBetweenUses time.Duration `json:"min_gap_between_uses"`
}

// NewThrottledUseAndTimeout builds a ThrottledUseAndTimeout policy,
// substituting AlwaysExpires when the idle window is not positive.
func NewThrottledUseAndTimeout(timeToKill, minGap time.Duration) Policy {
	if timeToKill <= 0 {
		return &AlwaysExpires{}
	}
	return &ThrottledUseAndTimeout{TimeToKill: timeToKill, MinGapBetweenUses: minGap}
}

// Name implements Policy.
func (*ThrottledUseAndTimeout) Name() string { return NameThrottledUseAndTimeout }

// IsExpiredAt implements Policy.
func (p *ThrottledUseAndTimeout) IsExpiredAt(s *State, now time.Time) bool {
	if s == nil {
		return true
	}
	idle := now.Sub(s.LastTimeUsed)
	if s.CountOfUses == 0 && idle < p.TimeToKill {
		return false
	}
	if idle >= p.TimeToKill {
		return true
	}
	return idle <= p.MinGapBetweenUses
}

// TTL implements Policy.
func (p *ThrottledUseAndTimeout) TTL(*State, time.Time) time.Duration { return p.TimeToKill }

// TicketGranting is the default policy for ticket-granting tickets: an
// absolute ceiling from creation, a sliding idle window from last use, and
// an optional cooldown carved out the same way as ThrottledUseAndTimeout.
type TicketGranting struct {
	MaxTimeToLive     time.Duration `json:"max_time_to_live"`
	TimeToKill        time.Duration `json:"time_to_kill"`
	MinGapBetweenUses time.Duration `json:"min_gap_between_uses,omitempty"`
}

// NewTicketGranting builds the composite TGT policy, substituting
// AlwaysExpires when either window is not positive.
func NewTicketGranting(maxTimeToLive, timeToKill, minGap time.Duration) Policy {
	if maxTimeToLive <= 0 || timeToKill <= 0 {
		return &AlwaysExpires{}
	}
	return &TicketGranting{MaxTimeToLive: maxTimeToLive, TimeToKill: timeToKill, MinGapBetweenUses: minGap}
}

// Name implements Policy.
func (*TicketGranting) Name() string { return NameTicketGranting }

// IsExpiredAt implements Policy.
func (p *TicketGranting) IsExpiredAt(s *State, now time.Time) bool {
	if s == nil {
		return true
	}
	if now.Sub(s.CreationTime) >= p.MaxTimeToLive {
		return true
	}
	idle := now.Sub(s.LastTimeUsed)
	if s.CountOfUses == 0 && idle < p.TimeToKill {
		return false
	}
	if idle >= p.TimeToKill {
		return true
	}
	if p.MinGapBetweenUses > 0 && idle <= p.MinGapBetweenUses {
		return true
	}
	return false
}

// TTL implements Policy. The hint is the tighter of the remaining absolute
// ceiling and the idle window.
func (p *TicketGranting) TTL(s *State, now time.Time) time.Duration {
	ttl := p.TimeToKill
	if s != nil {
		if remaining := s.CreationTime.Add(p.MaxTimeToLive).Sub(now); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// RememberMeDelegating wraps two policies and delegates to the secondary
// (typically longer-lived) one when the originating credential carried the
// remember-me trait. Selection happens once, at ticket-creation time, via
// Select; an instance reached at evaluation time behaves as its primary.
type RememberMeDelegating struct {
	Primary    Policy
	RememberMe Policy
}

// NewRememberMeDelegating builds a RememberMeDelegating policy. Both
// delegates are required.
func NewRememberMeDelegating(primary, rememberMe Policy) (*RememberMeDelegating, error) {
	if primary == nil || rememberMe == nil {
		return nil, fmt.Errorf("remember-me delegating policy requires both delegates")
	}
	return &RememberMeDelegating{Primary: primary, RememberMe: rememberMe}, nil
}

// Select returns the delegate to attach to a new ticket, based on the
// remember-me trait of the authentication that produced it.
func (p *RememberMeDelegating) Select(rememberMe bool) Policy {
	if rememberMe {
		return p.RememberMe
	}
	return p.Primary
}

// Name implements Policy.
func (*RememberMeDelegating) Name() string { return NameRememberMeDelegating }

// IsExpiredAt implements Policy.
func (p *RememberMeDelegating) IsExpiredAt(s *State, now time.Time) bool {
	if s == nil || p.Primary == nil {
		return true
	}
	return p.Primary.IsExpiredAt(s, now)
}

// TTL implements Policy.
func (p *RememberMeDelegating) TTL(s *State, now time.Time) time.Duration {
	if p.Primary == nil {
		return 0
	}
	return p.Primary.TTL(s, now)
}

// delegatingEnvelope is the serialized form of RememberMeDelegating: both
// delegates as nested policy envelopes.
type delegatingEnvelope struct {
	Primary    json.RawMessage `json:"primary"`
	RememberMe json.RawMessage `json:"remember_me"`
}

// MarshalJSON implements json.Marshaler.
func (p *RememberMeDelegating) MarshalJSON() ([]byte, error) {
	primary, err := Encode(p.Primary)
	if err != nil {
		return nil, err
	}
	rememberMe, err := Encode(p.RememberMe)
	if err != nil {
		return nil, err
	}
	return json.Marshal(delegatingEnvelope{Primary: primary, RememberMe: rememberMe})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *RememberMeDelegating) UnmarshalJSON(data []byte) error {
	var env delegatingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	primary, err := Decode(env.Primary)
	if err != nil {
		return err
	}
	rememberMe, err := Decode(env.RememberMe)
	if err != nil {
		return err
	}
	p.Primary = primary
	p.RememberMe = rememberMe
	return nil
}

// Compile-time interface compliance checks
var (
	_ Policy = (*NeverExpires)(nil)
	_ Policy = (*AlwaysExpires)(nil)
	_ Policy = (*IdleTimeout)(nil)
	_ Policy = (*HardTimeout)(nil)
	_ Policy = (*MultiTimeUseOrTimeout)(nil)
	_ Policy = (*ThrottledUseAndTimeout)(nil)
	_ Policy = (*TicketGranting)(nil)
	_ Policy = (*RememberMeDelegating)(nil)
)
