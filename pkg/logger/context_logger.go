package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WithContext adds the active trace and span ids, if any, to logger.
func WithContext(ctx context.Context, logger *zap.SugaredLogger) *zap.SugaredLogger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}

// LogRequest logs a served HTTP request.
func LogRequest(ctx context.Context, logger *zap.SugaredLogger, method, path string, statusCode int, durationMs int64) {
	l := WithContext(ctx, logger)
	fields := []interface{}{
		"method", method,
		"path", path,
		"status_code", statusCode,
		"duration_ms", durationMs,
	}
	switch {
	case statusCode >= 500:
		l.Errorw("http_request", fields...)
	case statusCode >= 400:
		l.Warnw("http_request", fields...)
	default:
		l.Debugw("http_request", fields...)
	}
}
