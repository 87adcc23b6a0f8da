package http

import (
	"net/http"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/internal/core/services"
	"ccngate/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionView is the read side of the gateway session.
type SessionView interface {
	Info() services.SessionInfo
	Roster() []services.RosterView
}

var errorRules = []errors.Rule{
	{Target: domain.ErrPeerNotFound, Code: errors.ErrCodeNotFound, HTTPStatus: http.StatusNotFound},
	{Target: domain.ErrSessionNotRunning, Code: errors.ErrCodeServiceUnavailable, HTTPStatus: http.StatusServiceUnavailable},
}

type GatewayHandler struct {
	session SessionView
}

var _ ports.HTTPHandler = (*GatewayHandler)(nil)

func NewGatewayHandler(session SessionView) *GatewayHandler {
	return &GatewayHandler{session: session}
}

func (h *GatewayHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/session", h.GetSession)
		api.GET("/roster", h.GetRoster)
		api.GET("/roster/:uid", h.GetPeer)
	}
}

func (h *GatewayHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Info())
}

func (h *GatewayHandler) GetRoster(c *gin.Context) {
	roster := h.session.Roster()
	c.JSON(http.StatusOK, gin.H{
		"peers": roster,
		"count": len(roster),
	})
}

func (h *GatewayHandler) GetPeer(c *gin.Context) {
	if h.session.Info().Status != services.SessionRunning.String() {
		c.Error(errors.FromError(domain.ErrSessionNotRunning, errorRules...))
		return
	}
	uid := c.Param("uid")
	for _, view := range h.session.Roster() {
		if view.UID == uid {
			c.JSON(http.StatusOK, view)
			return
		}
	}
	c.Error(errors.FromError(domain.ErrPeerNotFound, errorRules...).WithContext("uid", uid))
}
