package middleware

import (
	"context"
	"strings"

	"judgeflow/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	UserIDHeader    = "X-User-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	userIDContextKey    = "user_id"
)

// TraceContextConfig controls how trace/request/user id are extracted and written.
type TraceContextConfig struct {
	// AllowUserIDHeader trusts the X-User-Id header set by the upstream gateway.
	AllowUserIDHeader bool
}

// TraceContextMiddleware ensures trace/request/user id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{AllowUserIDHeader: true})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = bindHeader(c, ctx, TraceIDHeader, traceIDContextKey, contextkey.TraceID, true)
		ctx = bindHeader(c, ctx, RequestIDHeader, requestIDContextKey, contextkey.RequestID, true)
		if cfg.AllowUserIDHeader {
			ctx = bindHeader(c, ctx, UserIDHeader, userIDContextKey, contextkey.UserID, false)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bindHeader(c *gin.Context, ctx context.Context, header, ginKey string, ctxKey interface{}, generate bool) context.Context {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		if !generate {
			return ctx
		}
		value = uuid.NewString()
	}
	c.Set(ginKey, value)
	c.Writer.Header().Set(header, value)
	return context.WithValue(ctx, ctxKey, value)
}
