package http

import (
	"net/http"
	"strings"

	"ccngate/internal/core/services"
	"ccngate/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues the tokens the browser presents on the signaling
// websocket when authentication is enabled.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	router.POST("/api/v1/auth/token", h.IssueToken)
}

type TokenRequest struct {
	Nick string `json:"nick" binding:"required,max=64"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.Nick = strings.TrimSpace(req.Nick)
	if req.Nick == "" {
		c.Error(errors.NewInvalidInputError("nick must not be blank"))
		return
	}

	token, err := h.authService.GenerateToken(req.Nick)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"nick":  req.Nick,
	})
}
