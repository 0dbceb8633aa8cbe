package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CharbellTrad/biometric-service/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterDeviceRequest is the enrolment payload sent by the mobile app.
// Required fields are checked by the registry so the error names every missing one.
type RegisterDeviceRequest struct {
	DeviceID             string          `json:"device_id"`
	DeviceName           string          `json:"device_name"`
	Platform             string          `json:"platform"`
	BiometricType        string          `json:"biometric_type"`
	BiometricTypeDisplay *string         `json:"biometric_type_display,omitempty"`
	OSVersion            *string         `json:"os_version,omitempty"`
	ModelName            *string         `json:"model_name,omitempty"`
	Brand                *string         `json:"brand,omitempty"`
	IsPhysicalDevice     *bool           `json:"is_physical_device,omitempty"`
	EncryptedCredentials *string         `json:"encrypted_credentials,omitempty"`
	DeviceInfo           json.RawMessage `json:"device_info,omitempty"`
	Notes                *string         `json:"notes,omitempty"`
}

// DeviceListResponse wraps the caller's devices.
type DeviceListResponse struct {
	Devices []usecase.DeviceView `json:"devices"`
	Total   int                  `json:"total"`
}

// ArchiveDeviceRequest toggles the archived flag.
type ArchiveDeviceRequest struct {
	Archived *bool `json:"archived" binding:"required"`
}

// AuditEventPayload is one entry of a device's audit trail.
type AuditEventPayload struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Actor   string         `json:"actor"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

// AuditTrailResponse wraps a device's audit events.
type AuditTrailResponse struct {
	Events []AuditEventPayload `json:"events"`
}

// AuthErrorPayload describes why an attempt failed.
type AuthErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogAuthenticationRequest records one device-bound authentication attempt.
// An omitted success flag means the attempt succeeded.
type LogAuthenticationRequest struct {
	DeviceID   string            `json:"device_id"`
	Success    *bool             `json:"success"`
	AuthType   string            `json:"auth_type,omitempty"`
	Error      *AuthErrorPayload `json:"error_info,omitempty"`
	SessionID  *string           `json:"session_id,omitempty"`
	DurationMS *int              `json:"duration_ms,omitempty"`
	Notes      *string           `json:"notes,omitempty"`
}

// DeviceInfoPayload is the optional device hint of a traditional login.
type DeviceInfoPayload struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
}

// TraditionalLoginRequest records a username/password login.
type TraditionalLoginRequest struct {
	SessionID  *string            `json:"session_id,omitempty"`
	DeviceInfo *DeviceInfoPayload `json:"device_info,omitempty"`
}

// EndSessionRequest narrows which active sessions are ended.
type EndSessionRequest struct {
	SessionID *string `json:"session_id,omitempty"`
	DeviceID  *string `json:"device_id,omitempty"`
}

// SessionListResponse wraps the caller's active sessions.
type SessionListResponse struct {
	Sessions []usecase.SessionView `json:"sessions"`
	Total    int                   `json:"total"`
}

// SessionStatusResponse reports whether a session has been ended.
type SessionStatusResponse struct {
	SessionID string `json:"session_id"`
	Ended     bool   `json:"ended"`
	Reason    string `json:"reason,omitempty"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse describes dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
