package ports

import (
	"context"

	"ccngate/internal/core/domain"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	GetRoster(c *gin.Context)
	GetSession(c *gin.Context)
}

// SignalHandler consumes events from the local browser.
type SignalHandler interface {
	HandleMessage(ctx context.Context, client LocalClient, msg *domain.RTCMessage) error
	HandleDisconnect(ctx context.Context, client LocalClient)
}
