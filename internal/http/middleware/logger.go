package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// quietRoutes are logged at debug level so scrapes and liveness checks do
// not drown the access log.
var quietRoutes = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// RequestLogger emits one access-log line per request with the request ID,
// matched route and, once authenticated, the user ID.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if claims, ok := GetClaims(c); ok {
			fields = append(fields, zap.String("user_id", claims.Sub))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		logger.Log(accessLevel(route, status), "http_request", fields...)
	}
}

// RequestID returns the ID assigned by RequestLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func accessLevel(route string, status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	}
	if _, quiet := quietRoutes[route]; quiet {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
