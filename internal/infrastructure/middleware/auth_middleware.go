package middleware

import (
	"net/http"
	"strings"

	"ccngate/internal/core/services"

	"github.com/gin-gonic/gin"
)

const nickKey = "nick"

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(nickKey, claims.Nick)
		c.Next()
	}
}

// Nick returns the nick of the authenticated caller, if any.
func Nick(c *gin.Context) (string, bool) {
	v, ok := c.Get(nickKey)
	if !ok {
		return "", false
	}
	nick, ok := v.(string)
	return nick, ok
}
