package domain

import (
	"strings"
	"time"
)

// RateLimitScope names what a rate-limit bucket is keyed by.
type RateLimitScope string

const (
	RateLimitScopeUser    RateLimitScope = "user"
	RateLimitScopeAddress RateLimitScope = "ip"
)

// RateLimitSubject identifies whose attempts a bucket counts. Authenticated
// callers are counted per user, anonymous requests per client address.
type RateLimitSubject struct {
	Scope RateLimitScope
	Value string
}

// UserSubject scopes a limit to one authenticated user.
func UserSubject(userID string) RateLimitSubject {
	return RateLimitSubject{Scope: RateLimitScopeUser, Value: strings.TrimSpace(userID)}
}

// AddressSubject scopes a limit to one client address.
func AddressSubject(ip string) RateLimitSubject {
	return RateLimitSubject{Scope: RateLimitScopeAddress, Value: strings.TrimSpace(ip)}
}

// Valid reports whether the subject names a known scope and a value.
func (s RateLimitSubject) Valid() bool {
	if s.Value == "" {
		return false
	}
	return s.Scope == RateLimitScopeUser || s.Scope == RateLimitScopeAddress
}

func (s RateLimitSubject) String() string {
	return string(s.Scope) + ":" + s.Value
}

// RateLimitWindow is what remains of a bucket inside its sliding window.
// Oldest is zero when the window is empty.
type RateLimitWindow struct {
	Count  int
	Oldest time.Time
}
