package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/transport/http/middleware"
	"github.com/CharbellTrad/biometric-service/internal/usecase"
)

// AuthLog is the authentication log surface used by the HTTP layer.
type AuthLog interface {
	LogAuthentication(ctx context.Context, caller domain.Caller, req usecase.LogAuthenticationRequest) usecase.LogResult
	LogTraditionalLogin(ctx context.Context, caller domain.Caller, req usecase.TraditionalLoginRequest) usecase.TraditionalLoginResult
	EndSession(ctx context.Context, caller domain.Caller, sessionID, deviceUUID *string) usecase.EndSessionResult
	SessionEnded(ctx context.Context, caller domain.Caller, sessionID string) (bool, string, error)
	ActiveSessions(ctx context.Context, ownerID string) ([]usecase.SessionView, error)
	AuthHistory(ctx context.Context, owner domain.Caller, limit, offset int) (*usecase.HistoryPage, error)
}

// AuthLogHandler records authentication attempts and serves the caller's history.
type AuthLogHandler struct {
	logs AuthLog
}

// NewAuthLogHandler constructs an authentication log handler.
func NewAuthLogHandler(logs AuthLog) *AuthLogHandler {
	return &AuthLogHandler{logs: logs}
}

// RegisterRoutes binds authentication log routes. The group must already require a caller.
func (h *AuthLogHandler) RegisterRoutes(r *gin.RouterGroup, logMiddlewares ...gin.HandlerFunc) {
	if r == nil {
		return
	}

	r.POST("", withHandler(logMiddlewares, h.LogAuthentication)...)
	r.POST("/traditional", withHandler(logMiddlewares, h.LogTraditionalLogin)...)
	r.GET("/history", h.History)
}

// RegisterSessionRoutes binds session routes.
func (h *AuthLogHandler) RegisterSessionRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ActiveSessions)
	r.POST("/end", h.EndSession)
	r.GET("/:session_id/status", h.SessionStatus)
}

// LogAuthentication records a device-bound attempt. The response is always a
// result envelope; only malformed requests are rejected with 400.
func (h *AuthLogHandler) LogAuthentication(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req LogAuthenticationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}

	authType := domain.AuthType(strings.ToLower(strings.TrimSpace(req.AuthType)))
	var authErr *domain.AuthError
	if req.Error != nil {
		authErr = &domain.AuthError{Code: req.Error.Code, Message: req.Error.Message}
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	result := h.logs.LogAuthentication(c.Request.Context(), caller, usecase.LogAuthenticationRequest{
		DeviceID:   req.DeviceID,
		Success:    success,
		AuthType:   authType,
		Error:      authErr,
		SessionID:  req.SessionID,
		DurationMS: req.DurationMS,
		Attempt:    middleware.AttemptContext(c, req.Notes),
	})
	if result.Cause != nil {
		_ = c.Error(result.Cause)
	}

	c.JSON(http.StatusOK, result)
}

// LogTraditionalLogin records a username/password login.
func (h *AuthLogHandler) LogTraditionalLogin(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req TraditionalLoginRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
			return
		}
	}

	var hint *domain.DeviceHint
	if req.DeviceInfo != nil {
		hint = &domain.DeviceHint{
			DeviceUUID: req.DeviceInfo.DeviceID,
			DeviceName: req.DeviceInfo.DeviceName,
			Platform:   req.DeviceInfo.Platform,
		}
	}

	result := h.logs.LogTraditionalLogin(c.Request.Context(), caller, usecase.TraditionalLoginRequest{
		SessionID: req.SessionID,
		Device:    hint,
		Attempt:   middleware.AttemptContext(c, nil),
	})
	if result.Cause != nil {
		_ = c.Error(result.Cause)
	}

	c.JSON(http.StatusOK, result)
}

// EndSession ends the caller's active sessions, optionally narrowed by session or device.
func (h *AuthLogHandler) EndSession(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req EndSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
			return
		}
	}

	result := h.logs.EndSession(c.Request.Context(), caller, req.SessionID, req.DeviceID)
	if result.Cause != nil {
		_ = c.Error(result.Cause)
	}

	c.JSON(http.StatusOK, result)
}

// SessionStatus reports whether one of the caller's sessions has been ended.
func (h *AuthLogHandler) SessionStatus(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	ended, reason, err := h.logs.SessionEnded(c.Request.Context(), caller, sessionID)
	if err != nil {
		respondDomainError(c, err, "failed to check session")
		return
	}

	c.JSON(http.StatusOK, SessionStatusResponse{SessionID: sessionID, Ended: ended, Reason: reason})
}

// ActiveSessions lists the caller's active sessions.
func (h *AuthLogHandler) ActiveSessions(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	sessions, err := h.logs.ActiveSessions(c.Request.Context(), caller.UserID)
	if err != nil {
		respondDomainError(c, err, "failed to list sessions")
		return
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, Total: len(sessions)})
}

// History returns a page of the caller's authentication history.
func (h *AuthLogHandler) History(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be an integer"))
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "offset must be an integer"))
		return
	}

	page, err := h.logs.AuthHistory(c.Request.Context(), caller, limit, offset)
	if err != nil {
		respondDomainError(c, err, "failed to load history")
		return
	}

	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
