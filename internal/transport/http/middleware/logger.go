package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/CharbellTrad/biometric-service/internal/infra/logger"
)

// Logger emits access logs for every HTTP request with correlation identifiers and masked PII.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		requestID := appLogger.RequestIDFromContext(c.Request.Context())

		fields := []zap.Field{
			zap.String("trace_id", GetTraceID(c)),
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}

		if caller, ok := GetCaller(c); ok {
			fields = append(fields, zap.String("user_id", caller.UserID))
		}
		if deviceID := c.Param("device_id"); deviceID != "" {
			fields = append(fields, zap.String("device_id", deviceID))
		}
		if sessionID := c.Param("session_id"); sessionID != "" {
			fields = append(fields, zap.String("session_id", appLogger.MaskString(sessionID)))
		}

		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}

		if status >= 500 {
			log.Error("request completed with server error", fields...)
			return
		}

		log.Info("request completed", fields...)
	}
}
