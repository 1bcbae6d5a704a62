package middleware

import (
	"context"
	"strings"

	"rejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"
	userRoleHeader  = "X-User-Role"
)

// TraceContextConfig controls how trace/request/user identity are extracted and written.
type TraceContextConfig struct {
	AllowUserHeaders bool
	WriteUserHeaders bool
}

// TraceContextMiddleware ensures trace/request/user identity are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowUserHeaders: true,
		WriteUserHeaders: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		if cfg.AllowUserHeaders {
			if userID := strings.TrimSpace(c.GetHeader(userIDHeader)); userID != "" {
				c.Set("user_id", userID)
				ctx = context.WithValue(ctx, contextkey.UserID, userID)
				if cfg.WriteUserHeaders {
					c.Writer.Header().Set(userIDHeader, userID)
				}
			}
			if role := strings.TrimSpace(c.GetHeader(userRoleHeader)); role != "" {
				c.Set("user_role", role)
				ctx = context.WithValue(ctx, contextkey.UserRole, role)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
