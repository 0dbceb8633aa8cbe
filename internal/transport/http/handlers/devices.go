package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/transport/http/middleware"
	"github.com/CharbellTrad/biometric-service/internal/usecase"
)

// DeviceRegistry is the device registry surface used by the HTTP layer.
type DeviceRegistry interface {
	RegisterDevice(ctx context.Context, reg domain.DeviceRegistration) (*usecase.DeviceView, error)
	ListDevices(ctx context.Context, ownerID, currentDeviceUUID string) ([]usecase.DeviceView, error)
	GetDevice(ctx context.Context, caller domain.Caller, deviceID string) (*usecase.DeviceView, error)
	RevokeDevice(ctx context.Context, caller domain.Caller, deviceID string) error
	ActivateDevice(ctx context.Context, caller domain.Caller, deviceID string) error
	ArchiveDevice(ctx context.Context, caller domain.Caller, deviceID string, archived bool) error
	DeleteDevice(ctx context.Context, caller domain.Caller, deviceID string) error
	AuditTrail(ctx context.Context, caller domain.Caller, deviceID string) ([]domain.DeviceAuditEvent, error)
}

// DeviceStats is the per-device statistics surface of the authentication log.
type DeviceStats interface {
	DeviceAuthStats(ctx context.Context, caller domain.Caller, deviceID string) (*usecase.DeviceAuthStatsView, error)
}

// DeviceHandler exposes the caller's biometric devices.
type DeviceHandler struct {
	registry DeviceRegistry
	stats    DeviceStats
}

// NewDeviceHandler constructs a device handler.
func NewDeviceHandler(registry DeviceRegistry, stats DeviceStats) *DeviceHandler {
	return &DeviceHandler{registry: registry, stats: stats}
}

// RegisterRoutes binds device routes. The group must already require a caller.
func (h *DeviceHandler) RegisterRoutes(r *gin.RouterGroup, registerMiddlewares ...gin.HandlerFunc) {
	if r == nil {
		return
	}

	r.POST("", withHandler(registerMiddlewares, h.Register)...)
	r.GET("", h.List)
	r.GET("/:device_id", h.Get)
	r.POST("/:device_id/revoke", h.Revoke)
	r.POST("/:device_id/activate", h.Activate)
	r.PUT("/:device_id/archive", h.Archive)
	r.DELETE("/:device_id", h.Delete)
	r.GET("/:device_id/audit", h.Audit)
	r.GET("/:device_id/stats", h.Stats)
}

// Register enrols a device for the caller or refreshes an existing enrolment.
func (h *DeviceHandler) Register(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}

	view, err := h.registry.RegisterDevice(c.Request.Context(), domain.DeviceRegistration{
		OwnerID:              caller.UserID,
		DeviceUUID:           req.DeviceID,
		DeviceName:           req.DeviceName,
		Platform:             domain.Platform(strings.ToLower(strings.TrimSpace(req.Platform))),
		BiometricType:        domain.BiometricType(strings.ToLower(strings.TrimSpace(req.BiometricType))),
		BiometricLabel:       req.BiometricTypeDisplay,
		OSVersion:            req.OSVersion,
		ModelName:            req.ModelName,
		Brand:                req.Brand,
		IsPhysical:           req.IsPhysicalDevice,
		EncryptedCredentials: req.EncryptedCredentials,
		DeviceInfo:           req.DeviceInfo,
		Notes:                req.Notes,
	})
	if err != nil {
		respondDomainError(c, err, "failed to register device")
		return
	}

	c.JSON(http.StatusOK, view)
}

// List returns the caller's non-revoked devices. The current_device_id query
// parameter flags the device the request comes from.
func (h *DeviceHandler) List(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	views, err := h.registry.ListDevices(c.Request.Context(), caller.UserID, c.Query("current_device_id"))
	if err != nil {
		respondDomainError(c, err, "failed to list devices")
		return
	}

	c.JSON(http.StatusOK, DeviceListResponse{Devices: views, Total: len(views)})
}

// Get returns one device with its derived statistics.
func (h *DeviceHandler) Get(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	view, err := h.registry.GetDevice(c.Request.Context(), caller, c.Param("device_id"))
	if err != nil {
		respondDomainError(c, err, "failed to load device")
		return
	}

	c.JSON(http.StatusOK, view)
}

// Revoke disables a device.
func (h *DeviceHandler) Revoke(c *gin.Context) {
	h.transition(c, h.registry.RevokeDevice, "device revoked", "failed to revoke device")
}

// Activate re-enables a device.
func (h *DeviceHandler) Activate(c *gin.Context) {
	h.transition(c, h.registry.ActivateDevice, "device activated", "failed to activate device")
}

// Delete removes a device. Its authentication history is kept.
func (h *DeviceHandler) Delete(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := h.registry.DeleteDevice(c.Request.Context(), caller, c.Param("device_id")); err != nil {
		respondDomainError(c, err, "failed to delete device")
		return
	}

	c.Status(http.StatusNoContent)
}

// Archive hides or restores a device in listings.
func (h *DeviceHandler) Archive(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req ArchiveDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "archived is required"))
		return
	}

	if err := h.registry.ArchiveDevice(c.Request.Context(), caller, c.Param("device_id"), *req.Archived); err != nil {
		respondDomainError(c, err, "failed to archive device")
		return
	}

	message := "device restored"
	if *req.Archived {
		message = "device archived"
	}
	c.JSON(http.StatusOK, MessageResponse{Message: message})
}

// Audit returns the device's audit trail.
func (h *DeviceHandler) Audit(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	events, err := h.registry.AuditTrail(c.Request.Context(), caller, c.Param("device_id"))
	if err != nil {
		respondDomainError(c, err, "failed to load audit trail")
		return
	}

	payload := make([]AuditEventPayload, 0, len(events))
	for _, event := range events {
		payload = append(payload, AuditEventPayload{
			ID:      event.ID,
			Kind:    string(event.Kind),
			Actor:   event.Actor,
			At:      event.At.UTC(),
			Details: event.Details,
		})
	}

	c.JSON(http.StatusOK, AuditTrailResponse{Events: payload})
}

// Stats returns the authentication statistics of a device.
func (h *DeviceHandler) Stats(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	if h.stats == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication log unavailable"))
		return
	}

	stats, err := h.stats.DeviceAuthStats(c.Request.Context(), caller, c.Param("device_id"))
	if err != nil {
		respondDomainError(c, err, "failed to load device statistics")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *DeviceHandler) transition(c *gin.Context, apply func(context.Context, domain.Caller, string) error, done, failed string) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	if err := apply(c.Request.Context(), caller, c.Param("device_id")); err != nil {
		respondDomainError(c, err, failed)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: done})
}

func requireCaller(c *gin.Context) (domain.Caller, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return domain.Caller{}, false
	}
	return caller, true
}

func withHandler(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	chain = append(chain, middlewares...)
	return append(chain, handler)
}
