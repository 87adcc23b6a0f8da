// Package syncsocket carries presence records between gateways of one
// chatroom. A record is published as named data under the local sync
// prefix, and its name is broadcast to the chatroom so that the other
// members fetch it.
package syncsocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/pkg/tracing"

	"go.uber.org/zap"
)

type Config struct {
	Chatroom string
	// Freshness of published records in the network store.
	Freshness time.Duration
}

// Socket implements ports.SyncSocket. It owns its transport and closes it
// on Close.
type Socket struct {
	local     domain.Peer
	cfg       Config
	transport ports.Transport
	notifier  ports.Notifier
	logger    *zap.SugaredLogger
	handlers  *ports.InterestHandlers

	mu          sync.Mutex
	onMessage   func([]byte)
	unsubscribe func()
	removed     map[string]struct{}
	closed      bool
}

func New(
	local domain.Peer,
	cfg Config,
	transport ports.Transport,
	notifier ports.Notifier,
	logger *zap.SugaredLogger,
) *Socket {
	s := &Socket{
		local:     local,
		cfg:       cfg,
		transport: transport,
		notifier:  notifier,
		logger:    logger,
		removed:   make(map[string]struct{}),
	}
	s.handlers = &ports.InterestHandlers{
		OnData:    s.onRecord,
		OnTimeout: s.onRecordTimeout,
	}
	return s
}

func (s *Socket) Start(onMessage func(content []byte)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrTransportClosed
	}
	if s.onMessage != nil {
		s.mu.Unlock()
		return fmt.Errorf("sync socket for %s already started", s.local.UID)
	}
	s.onMessage = onMessage
	s.mu.Unlock()

	unsubscribe, err := s.notifier.Subscribe(s.cfg.Chatroom, s.onName)
	if err != nil {
		return fmt.Errorf("failed to join chatroom %s: %w", s.cfg.Chatroom, err)
	}

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.logger.Infow("Sync socket started", "chatroom", s.cfg.Chatroom, "prefix", s.local.SyncPrefix())
	return nil
}

func (s *Socket) Publish(ctx context.Context, name string, content []byte) error {
	ctx, span := tracing.TraceSyncPublish(ctx, s.cfg.Chatroom, name)
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrTransportClosed
	}
	for prefix := range s.removed {
		if domain.HasNamePrefix(name, prefix) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s was removed", domain.ErrTransportClosed, prefix)
		}
	}
	s.mu.Unlock()

	if err := s.transport.Publish(name, content, s.cfg.Freshness); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if err := s.notifier.Notify(ctx, s.cfg.Chatroom, name); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

// Remove withdraws prefix: nothing more is published below it.
func (s *Socket) Remove(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[prefix] = struct{}{}
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return s.transport.Close()
}

func (s *Socket) onName(name string) {
	if domain.HasNamePrefix(name, s.local.SyncPrefix()) {
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if err := s.transport.Express(name, ports.SelectExact, s.handlers); err != nil {
		s.logger.Warnw("Failed to fetch sync record", "name", name, "error", err)
	}
}

func (s *Socket) onRecord(name string, content []byte) {
	s.mu.Lock()
	fn := s.onMessage
	closed := s.closed
	s.mu.Unlock()

	if closed || fn == nil {
		return
	}
	s.logger.Debugw("Fetched sync record", "name", name, "size", len(content))
	fn(content)
}

func (s *Socket) onRecordTimeout(name string) ports.TimeoutAction {
	s.logger.Debugw("Sync record fetch timed out", "name", name)
	return ports.GiveUp
}
