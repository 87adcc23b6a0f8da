package middleware

import (
	"strings"
	"time"

	"ccngate/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const traceHeader = "X-Trace-ID"

// TracingMiddleware opens a span per request and echoes its trace id.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.remote_addr", c.ClientIP()),
			attribute.Bool("http.upgrade", c.IsWebsocket()),
		)
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			c.Header(traceHeader, sc.TraceID().String())
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
		for _, ginErr := range c.Errors {
			tracing.RecordError(ctx, ginErr.Err)
		}
		if status >= 500 {
			span.SetStatus(codes.Error, statusText(c))
		}
	}
}

func statusText(c *gin.Context) string {
	if len(c.Errors) == 0 {
		return "server error"
	}
	return strings.Join(c.Errors.Errors(), "; ")
}
