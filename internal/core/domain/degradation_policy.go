package domain

import "strings"

// DegradationPolicyMode enumerates how session checks behave when the
// ended-session marker cache cannot answer.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient confirms against the authentication log when the cache misses or fails.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict treats the cache as authoritative and reports its failures.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures why the cache could not answer.
type DegradationReason string

const (
	// DegradationReasonCacheMiss indicates the cache holds no marker for the session.
	DegradationReasonCacheMiss DegradationReason = "cache_miss"
	// DegradationReasonCacheUnavailable indicates the cache lookup failed.
	DegradationReasonCacheUnavailable DegradationReason = "cache_unavailable"
)

// DegradationPolicy centralises how the service responds when ended-session data is missing.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	if p.mode == "" {
		return DegradationPolicyModeLenient
	}
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback reports whether the authentication log may be consulted for the given reason.
func (p DegradationPolicy) AllowsFallback(DegradationReason) bool {
	return !p.IsStrict()
}
