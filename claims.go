package authkit

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Claims is an authenticated identity and its token metadata.
//
// A Claims value is never modified after construction. The With* and
// AddGroup builders return a copy, so a *Claims can be shared between
// goroutines without locking.
type Claims struct {
	Subject    string
	Provider   string
	Groups     []string
	IssuedAt   int64 // unix seconds
	ExpiresAt  int64 // unix seconds
	TokenID    string
	Attributes map[string]any
}

// NewClaims returns claims for subject with no groups or attributes and a
// freshly generated TokenID.
func NewClaims(subject, provider string, expiresAt, issuedAt int64) *Claims {
	return &Claims{
		Subject:   subject,
		Provider:  provider,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		TokenID:   uuid.NewString(),
	}
}

func (c *Claims) clone() *Claims {
	cp := *c
	cp.Groups = slices.Clone(c.Groups)
	cp.Attributes = maps.Clone(c.Attributes)
	return &cp
}

// WithGroups returns a copy whose groups are replaced by groups.
func (c *Claims) WithGroups(groups ...string) *Claims {
	cp := c.clone()
	cp.Groups = slices.Clone(groups)
	return cp
}

// AddGroup returns a copy with group appended.
func (c *Claims) AddGroup(group string) *Claims {
	cp := c.clone()
	cp.Groups = append(cp.Groups, group)
	return cp
}

// WithAttributes returns a copy carrying attrs. The map is copied.
func (c *Claims) WithAttributes(attrs map[string]any) *Claims {
	cp := c.clone()
	cp.Attributes = maps.Clone(attrs)
	return cp
}

// Renew returns new claims for the same principal, issued at now and
// expiring lifetime seconds later, with a new TokenID.
func (c *Claims) Renew(now, lifetime int64) *Claims {
	cp := c.clone()
	cp.IssuedAt = now
	cp.ExpiresAt = now + lifetime
	cp.TokenID = uuid.NewString()
	return cp
}

// HasGroup reports whether the claims include group.
func (c *Claims) HasGroup(group string) bool {
	return slices.Contains(c.Groups, group)
}

// HasAnyGroup reports whether the claims include at least one of groups.
func (c *Claims) HasAnyGroup(groups ...string) bool {
	for _, g := range groups {
		if c.HasGroup(g) {
			return true
		}
	}
	return false
}

// HasAllGroups reports whether the claims include every one of groups.
func (c *Claims) HasAllGroups(groups ...string) bool {
	for _, g := range groups {
		if !c.HasGroup(g) {
			return false
		}
	}
	return true
}

// IsExpired reports whether the claims have expired at now.
func (c *Claims) IsExpired(now int64) bool {
	return now >= c.ExpiresAt
}

// TimeToExpiry returns seconds until expiry; negative once expired.
func (c *Claims) TimeToExpiry(now int64) int64 {
	return c.ExpiresAt - now
}

// Age returns seconds elapsed since issuance.
func (c *Claims) Age(now int64) int64 {
	return now - c.IssuedAt
}
