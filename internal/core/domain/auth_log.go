package domain

import (
	"fmt"
	"strings"
	"time"
)

// AuthType enumerates how an authentication attempt was performed.
type AuthType string

const (
	AuthTypeBiometric   AuthType = "biometric"
	AuthTypeTraditional AuthType = "traditional"
	AuthTypeFallback    AuthType = "fallback"
	AuthTypeAutomatic   AuthType = "automatic"
)

// Valid reports whether the auth type is supported.
func (t AuthType) Valid() bool {
	switch t {
	case AuthTypeBiometric, AuthTypeTraditional, AuthTypeFallback, AuthTypeAutomatic:
		return true
	}
	return false
}

const (
	// DefaultDeviceName is stored when a traditional login carries no device hint.
	DefaultDeviceName = "Device"
	// NoDeviceName is rendered when an entry has no device snapshot at all.
	NoDeviceName = "No device"
	// UnknownPlatform is stored and rendered when the platform is not known.
	UnknownPlatform = "unknown"
)

// AuthLogEntry is an append-only record of one authentication attempt.
// DeviceName and DevicePlatform are snapshots taken at write time so history
// survives deletion of the referenced device.
type AuthLogEntry struct {
	ID             string
	UserID         string
	DeviceID       *string
	DeviceName     string
	DevicePlatform string
	AuthDate       time.Time
	Success        bool
	AuthType       AuthType
	ErrorCode      *string
	ErrorMessage   *string
	SessionID      *string
	SessionActive  bool
	SessionEndedAt *time.Time
	IPAddress      *string
	UserAgent      *string
	DurationMS     *int
	Notes          *string
}

// EndSession closes the session attached to the entry. It reports false when
// the session had already ended; the transition happens at most once.
func (e *AuthLogEntry) EndSession(at time.Time) bool {
	if !e.SessionActive {
		return false
	}
	e.SessionActive = false
	e.SessionEndedAt = &at
	return true
}

// DisplayName renders "<user> - Success|Failure - <date>" for admin listings.
func (e AuthLogEntry) DisplayName(userName string) string {
	status := "Failure"
	if e.Success {
		status = "Success"
	}
	return fmt.Sprintf("%s - %s - %s", userName, status, e.AuthDate.UTC().Format("2006-01-02 15:04:05"))
}

// DeviceNameOrDefault returns the snapshot name or the "no device" label.
func (e AuthLogEntry) DeviceNameOrDefault() string {
	if strings.TrimSpace(e.DeviceName) == "" {
		return NoDeviceName
	}
	return e.DeviceName
}

// DevicePlatformOrDefault returns the snapshot platform or "unknown".
func (e AuthLogEntry) DevicePlatformOrDefault() string {
	if strings.TrimSpace(e.DevicePlatform) == "" {
		return UnknownPlatform
	}
	return e.DevicePlatform
}

// AuthError describes why an attempt failed, as reported by the client.
type AuthError struct {
	Code    string
	Message string
}

// DeviceHint carries the optional device information sent with a traditional login.
type DeviceHint struct {
	DeviceUUID string
	DeviceName string
	Platform   string
}

// Empty reports whether no hint field was supplied.
func (h *DeviceHint) Empty() bool {
	if h == nil {
		return true
	}
	return strings.TrimSpace(h.DeviceUUID) == "" &&
		strings.TrimSpace(h.DeviceName) == "" &&
		strings.TrimSpace(h.Platform) == ""
}

// AttemptContext carries request telemetry captured by the transport layer.
type AttemptContext struct {
	IPAddress *string
	UserAgent *string
	Notes     *string
}

// AuthStats aggregates the attempts recorded for one device.
type AuthStats struct {
	Total       int
	Successful  int
	LastAuth    *time.Time
	LastSuccess *time.Time
}

// Failed returns the number of failed attempts.
func (s AuthStats) Failed() int {
	return s.Total - s.Successful
}

// SuccessRate returns the success percentage, 0 when nothing was recorded.
func (s AuthStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total) * 100
}

// AuthLogFilter narrows queries over the authentication log.
type AuthLogFilter struct {
	UserID        string
	DeviceID      *string
	SessionID     *string
	SessionActive *bool
	Success       *bool
}
