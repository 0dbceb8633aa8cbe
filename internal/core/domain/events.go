package domain

import "time"

// DeviceLifecycleEvent represents the payload for biometric.device.* messages.
type DeviceLifecycleEvent struct {
	EventID    string
	DeviceID   string
	OwnerID    string
	DeviceUUID string
	DeviceName string
	Platform   Platform
	Kind       DeviceAuditKind
	Actor      string
	OccurredAt time.Time
	Metadata   map[string]any
}

// AuthLoggedEvent represents the payload for biometric.auth.logged messages.
type AuthLoggedEvent struct {
	EventID   string
	EntryID   string
	UserID    string
	DeviceID  *string
	AuthType  AuthType
	Success   bool
	ErrorCode *string
	SessionID *string
	LoggedAt  time.Time
	Metadata  map[string]any
}

// SessionEndedEvent represents the payload for biometric.session.ended messages.
type SessionEndedEvent struct {
	EventID       string
	UserID        string
	SessionID     *string
	DeviceID      *string
	SessionsEnded int
	EndedAt       time.Time
	Metadata      map[string]any
}

// UserDeletedEvent is consumed from the identity directory when a user is removed.
type UserDeletedEvent struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	DeletedAt time.Time `json:"deleted_at"`
	DeletedBy string    `json:"deleted_by,omitempty"`
}
