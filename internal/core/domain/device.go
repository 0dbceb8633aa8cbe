package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform enumerates the client platforms a device can be enrolled from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Valid reports whether the platform is one of the supported values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// BiometricType enumerates the biometric sensors a device may expose.
type BiometricType string

const (
	BiometricFingerprint       BiometricType = "fingerprint"
	BiometricFacialRecognition BiometricType = "facial_recognition"
	BiometricIris              BiometricType = "iris"
	BiometricUnknown           BiometricType = "unknown"
)

// Valid reports whether the biometric type is one of the supported values.
func (b BiometricType) Valid() bool {
	switch b {
	case BiometricFingerprint, BiometricFacialRecognition, BiometricIris, BiometricUnknown:
		return true
	}
	return false
}

// DeviceState describes the lifecycle position of a device.
type DeviceState string

const (
	DeviceStateActive   DeviceState = "active"
	DeviceStateInactive DeviceState = "inactive"
	DeviceStateRevoked  DeviceState = "revoked"
)

// Device is a biometric-capable device enrolled by a user.
// (OwnerID, DeviceUUID) is unique across the store.
type Device struct {
	ID                   string
	OwnerID              string
	DeviceUUID           string
	DeviceName           string
	Platform             Platform
	OSVersion            *string
	ModelName            *string
	Brand                *string
	IsPhysical           bool
	BiometricType        BiometricType
	BiometricLabel       *string
	EncryptedCredentials *string
	DeviceInfo           json.RawMessage
	Notes                *string
	State                DeviceState
	IsEnabled            bool
	Archived             bool
	EnrolledAt           time.Time
	LastUsedAt           *time.Time
	RevokedAt            *time.Time
	RevokedBy            *string
}

// IsRevoked reports whether the device has been revoked.
func (d Device) IsRevoked() bool {
	return d.State == DeviceStateRevoked
}

// DisplayBiometric returns the client supplied label, falling back to the raw type.
func (d Device) DisplayBiometric() string {
	if d.BiometricLabel != nil && strings.TrimSpace(*d.BiometricLabel) != "" {
		return *d.BiometricLabel
	}
	return string(d.BiometricType)
}

// Revoke disables the device and records who revoked it.
func (d *Device) Revoke(at time.Time, by string) error {
	if d.State == DeviceStateRevoked {
		return fmt.Errorf("%w: device %s already revoked", ErrState, d.ID)
	}
	d.State = DeviceStateRevoked
	d.IsEnabled = false
	d.RevokedAt = &at
	d.RevokedBy = &by
	return nil
}

// Activate re-enables the device. Revocation audit fields are kept as history.
func (d *Device) Activate() error {
	if d.State == DeviceStateActive {
		return fmt.Errorf("%w: device %s already active", ErrState, d.ID)
	}
	d.State = DeviceStateActive
	d.IsEnabled = true
	return nil
}

// MarkUsed records a successful authentication. Revoked devices never heal through use.
func (d *Device) MarkUsed(at time.Time) error {
	if d.State == DeviceStateRevoked {
		return fmt.Errorf("%w: device %s is revoked", ErrState, d.ID)
	}
	d.LastUsedAt = &at
	d.State = DeviceStateActive
	return nil
}

// DeviceRegistration carries the client payload for register_device.
type DeviceRegistration struct {
	OwnerID              string
	DeviceUUID           string
	DeviceName           string
	Platform             Platform
	BiometricType        BiometricType
	BiometricLabel       *string
	OSVersion            *string
	ModelName            *string
	Brand                *string
	IsPhysical           *bool
	EncryptedCredentials *string
	DeviceInfo           json.RawMessage
	Notes                *string
}

// Validate rejects registrations missing required identity or descriptor fields.
func (r DeviceRegistration) Validate() error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(r.DeviceUUID) == "" {
		missing = append(missing, "device_id")
	}
	if strings.TrimSpace(r.DeviceName) == "" {
		missing = append(missing, "device_name")
	}
	if strings.TrimSpace(string(r.Platform)) == "" {
		missing = append(missing, "platform")
	}
	if strings.TrimSpace(string(r.BiometricType)) == "" {
		missing = append(missing, "biometric_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if !r.Platform.Valid() {
		return fmt.Errorf("%w: unsupported platform %q", ErrValidation, r.Platform)
	}
	if !r.BiometricType.Valid() {
		return fmt.Errorf("%w: unsupported biometric type %q", ErrValidation, r.BiometricType)
	}
	if len(r.DeviceInfo) > 0 && !json.Valid(r.DeviceInfo) {
		return fmt.Errorf("%w: device_info is not valid JSON", ErrValidation)
	}
	return nil
}

// NewDevice builds a freshly enrolled, active device from a validated registration.
func (r DeviceRegistration) NewDevice(id string, at time.Time) Device {
	physical := true
	if r.IsPhysical != nil {
		physical = *r.IsPhysical
	}
	return Device{
		ID:                   id,
		OwnerID:              r.OwnerID,
		DeviceUUID:           strings.TrimSpace(r.DeviceUUID),
		DeviceName:           strings.TrimSpace(r.DeviceName),
		Platform:             r.Platform,
		OSVersion:            r.OSVersion,
		ModelName:            r.ModelName,
		Brand:                r.Brand,
		IsPhysical:           physical,
		BiometricType:        r.BiometricType,
		BiometricLabel:       r.BiometricLabel,
		EncryptedCredentials: r.EncryptedCredentials,
		DeviceInfo:           r.DeviceInfo,
		Notes:                r.Notes,
		State:                DeviceStateActive,
		IsEnabled:            true,
		EnrolledAt:           at,
	}
}

// DeviceUsage holds statistics derived on read from the authentication log.
type DeviceUsage struct {
	AuthCount        int
	LastAuthDate     *time.Time
	DaysSinceLastUse int
	IsRecentlyUsed   bool
	IsStale          bool
}

// UsagePolicy holds the thresholds used to derive recency and staleness.
type UsagePolicy struct {
	RecentWindow time.Duration
	StaleAfter   time.Duration
}

// DefaultUsagePolicy mirrors the registry defaults: 24h recency, 30 days staleness.
func DefaultUsagePolicy() UsagePolicy {
	return UsagePolicy{RecentWindow: 24 * time.Hour, StaleAfter: 30 * 24 * time.Hour}
}

// ComputeUsage derives the usage statistics of a device at the supplied instant.
func ComputeUsage(d Device, successes int, lastAuth *time.Time, now time.Time, policy UsagePolicy) DeviceUsage {
	usage := DeviceUsage{
		AuthCount:        successes,
		LastAuthDate:     lastAuth,
		DaysSinceLastUse: -1,
	}

	if d.LastUsedAt != nil {
		elapsed := now.Sub(*d.LastUsedAt)
		usage.DaysSinceLastUse = wholeDays(elapsed)
		usage.IsRecentlyUsed = elapsed < policy.RecentWindow
	}

	reference := d.EnrolledAt
	if d.LastUsedAt != nil {
		reference = *d.LastUsedAt
	}
	if !reference.IsZero() {
		usage.IsStale = wholeDays(now.Sub(reference)) > wholeDays(policy.StaleAfter)
	}

	return usage
}

// wholeDays floors a duration to days the way calendar deltas do, so -1h is day -1.
func wholeDays(d time.Duration) int {
	day := 24 * time.Hour
	days := int(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}
