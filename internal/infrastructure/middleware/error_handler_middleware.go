package middleware

import (
	"fmt"
	"net/http"

	"ccngate/pkg/errors"
	"ccngate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error. Errors that are not AppErrors are converted with rules and
// otherwise reported as internal.
func ErrorHandlerMiddleware(log *zap.SugaredLogger, rules ...errors.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := errors.FromError(c.Errors.Last().Err, rules...)
		l := logger.WithContext(c.Request.Context(), log).With(
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			l.Errorw("Request failed", "error", appErr)
		} else {
			l.Infow("Request rejected", "message", appErr.Message, "context", appErr.Context)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware turns a handler panic into an internal error response.
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				appErr := errors.NewInternalError("internal server error")
				logger.WithContext(c.Request.Context(), log).Errorw("Recovered from panic",
					"panic", fmt.Sprint(rec),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					zap.StackSkip("stack", 2),
				)
				c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
					"error":   string(appErr.Code),
					"message": appErr.Message,
				})
			}
		}()

		c.Next()
	}
}
