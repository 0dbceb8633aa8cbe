package domain

import "time"

// DeviceAuditKind names a mutating operation recorded in the audit trail.
type DeviceAuditKind string

const (
	DeviceAuditRegistered DeviceAuditKind = "registered"
	DeviceAuditReenrolled DeviceAuditKind = "reenrolled"
	DeviceAuditRevoked    DeviceAuditKind = "revoked"
	DeviceAuditActivated  DeviceAuditKind = "activated"
	DeviceAuditArchived   DeviceAuditKind = "archived"
	DeviceAuditDeleted    DeviceAuditKind = "deleted"
)

// DeviceAuditEvent is an append-only record written alongside each device mutation.
type DeviceAuditEvent struct {
	ID       string
	DeviceID string
	OwnerID  string
	Kind     DeviceAuditKind
	Actor    string
	At       time.Time
	Details  map[string]any
}
