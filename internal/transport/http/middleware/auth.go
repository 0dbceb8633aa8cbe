package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireCaller resolves the bearer token to a caller through the identity provider.
func RequireCaller(identity port.IdentityProvider, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				newErrorResponse(c, "identity provider unavailable"))
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		caller, err := identity.ResolveCaller(c.Request.Context(), token)
		if err != nil {
			logger.Debug("caller resolution failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid access token"))
			return
		}

		SetCaller(c, caller)
		c.Next()
	}
}

// SetCaller stores the resolved caller on the request.
func SetCaller(c *gin.Context, caller domain.Caller) {
	c.Set(callerKey, caller)
	c.Set(UserIDKey, caller.UserID)

	if reqCtx := GetRequestContext(c); reqCtx != nil {
		reqCtx.UserID = caller.UserID
	}
}

// GetCaller retrieves the authenticated caller (helper for handlers)
func GetCaller(c *gin.Context) (domain.Caller, bool) {
	value, exists := c.Get(callerKey)
	if !exists {
		return domain.Caller{}, false
	}
	caller, ok := value.(domain.Caller)
	if !ok || caller.UserID == "" {
		return domain.Caller{}, false
	}
	return caller, true
}

// CallerIdentifier scopes rate limits to the authenticated user, falling back to the client IP.
func CallerIdentifier() IdentifierFunc {
	return func(c *gin.Context) (domain.RateLimitSubject, bool) {
		if caller, ok := GetCaller(c); ok {
			return domain.UserSubject(caller.UserID), true
		}
		return ClientIPIdentifier()(c)
	}
}
