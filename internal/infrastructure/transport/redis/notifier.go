package redis

import (
	"context"
	"fmt"
	"time"

	"ccngate/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier broadcasts sync record names to a chatroom over pub/sub. While
// Redis keeps failing, notifications are refused without a round trip.
type Notifier struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewNotifier(client *redis.Client, logger *zap.SugaredLogger) *Notifier {
	n := &Notifier{client: client, logger: logger}
	n.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             5 * time.Second,
		MaxRequestsHalfOpen: 1,
	}, circuitbreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Notifier circuit changed", "from", from.String(), "to", to.String())
	}))
	return n
}

func (n *Notifier) Notify(ctx context.Context, chatroom, name string) error {
	err := n.breaker.Execute(ctx, func() error {
		return n.client.Publish(ctx, roomChannel(chatroom), name).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", chatroom, err)
	}
	n.logger.Debugw("notified chatroom", "chatroom", chatroom, "name", name)
	return nil
}

// Subscribe calls fn for every name announced in chatroom until the
// returned function is called.
func (n *Notifier) Subscribe(chatroom string, fn func(name string)) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := n.client.Subscribe(context.Background(), roomChannel(chatroom))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", chatroom, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			fn(msg.Payload)
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			n.logger.Debugw("closing chatroom subscription", "chatroom", chatroom, "error", err)
		}
	}, nil
}
