package monitoring

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// UDPBinder is satisfied by the media relay.
type UDPBinder interface {
	Addr() *net.UDPAddr
}

// AddRelayCheck reports unhealthy until the media relay is bound.
func (h *HealthChecker) AddRelayCheck(relay UDPBinder, timeout time.Duration) {
	h.AddCheck("udp_relay", func(context.Context) (bool, error) {
		if relay.Addr() == nil {
			return false, errors.New("udp relay not listening")
		}
		return true, nil
	}, timeout)
}
