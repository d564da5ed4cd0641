package domain

import (
	"fmt"
	"time"
)

// Policy is the effective lifetime and usage limit for a new token.
type Policy struct {
	TTL     time.Duration
	MaxUses int
}

// DefaultPolicy returns the built-in policy: 7 days, 5 downloads.
func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTokenTTL, MaxUses: DefaultMaxUses}
}

// Validate checks that the policy can mint a usable token.
func (p Policy) Validate() error {
	if p.TTL <= 0 {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("ttl must be positive, got %s", p.TTL))
	}
	if p.MaxUses <= 0 {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("max_uses must be positive, got %d", p.MaxUses))
	}
	return nil
}

// Override returns p with the non-zero fields of o applied.
func (p Policy) Override(o *PolicyOverride) Policy {
	if o == nil {
		return p
	}
	if o.TTLSeconds > 0 {
		p.TTL = time.Duration(o.TTLSeconds) * time.Second
	}
	if o.MaxUses > 0 {
		p.MaxUses = o.MaxUses
	}
	return p
}

// ExpiresInDays rounds the TTL up to whole days for display.
func (p Policy) ExpiresInDays() int {
	day := 24 * time.Hour
	return int((p.TTL + day - 1) / day)
}
