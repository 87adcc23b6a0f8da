// Package redis implements the pull network on top of Redis: data lives in
// expiring string keys, numeric children are indexed in sorted sets for
// rightmost requests, and interests are announced over pub/sub so that
// producers can answer on demand.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/internal/infrastructure/transport/face"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	InterestLifetime time.Duration
	PollInterval     time.Duration
	// IndexLimit caps how many children are kept per sorted set index.
	IndexLimit int64
}

func DefaultConfig() Config {
	return Config{
		InterestLifetime: 4 * time.Second,
		PollInterval:     20 * time.Millisecond,
		IndexLimit:       1024,
	}
}

// rightmostScan bounds how many stale index members one lookup skips.
const rightmostScan = 8

type pendingInterest struct {
	name     string
	sel      ports.Selector
	handlers *ports.InterestHandlers
	deadline time.Time
}

type Face struct {
	client *redis.Client
	cfg    Config
	logger *zap.SugaredLogger
	queue  *face.Queue
	pubsub *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu       sync.Mutex
	pending  map[*pendingInterest]struct{}
	prefixes map[string]func(string)
	closed   bool
}

func NewFace(client *redis.Client, cfg Config, logger *zap.SugaredLogger) (*Face, error) {
	def := DefaultConfig()
	if cfg.InterestLifetime <= 0 {
		cfg.InterestLifetime = def.InterestLifetime
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.IndexLimit <= 0 {
		cfg.IndexLimit = def.IndexLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(ctx, interestChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to interests: %w", err)
	}

	f := &Face{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		queue:    face.NewQueue(),
		pubsub:   pubsub,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		pending:  make(map[*pendingInterest]struct{}),
		prefixes: make(map[string]func(string)),
	}

	go f.queue.Run()
	go f.pollLoop()
	go f.interestLoop(pubsub.Channel())
	return f, nil
}

func (f *Face) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Face) Express(name string, sel ports.Selector, handlers *ports.InterestHandlers) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return domain.ErrTransportClosed
	}
	p := &pendingInterest{
		name:     name,
		sel:      sel,
		handlers: handlers,
		deadline: time.Now().Add(f.cfg.InterestLifetime),
	}
	f.pending[p] = struct{}{}
	f.mu.Unlock()

	if err := f.client.Publish(f.ctx, interestChannel, name).Err(); err != nil {
		f.drop(p)
		return fmt.Errorf("failed to announce interest %s: %w", name, err)
	}
	f.poke()
	return nil
}

func (f *Face) Publish(name string, content []byte, freshness time.Duration) error {
	if f.isClosed() {
		return domain.ErrTransportClosed
	}

	pipe := f.client.Pipeline()
	pipe.Set(f.ctx, dataKey(name), content, freshness)
	if parent, score, ok := indexEntry(name); ok {
		idx := indexKey(parent)
		pipe.ZAdd(f.ctx, idx, redis.Z{Score: score, Member: name})
		pipe.ZRemRangeByRank(f.ctx, idx, 0, -(f.cfg.IndexLimit + 1))
	}
	if _, err := pipe.Exec(f.ctx); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	f.poke()
	return nil
}

func (f *Face) RegisterPrefix(prefix string, onInterest func(name string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return domain.ErrTransportClosed
	}
	f.prefixes[prefix] = onInterest
	return nil
}

func (f *Face) UnregisterPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prefixes, prefix)
}

// Close stops polling and drops pending interests without running their
// callbacks.
func (f *Face) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.pending = make(map[*pendingInterest]struct{})
	f.prefixes = make(map[string]func(string))
	f.mu.Unlock()

	f.cancel()
	f.queue.Close()
	return f.pubsub.Close()
}

func (f *Face) poke() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Face) drop(p *pendingInterest) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[p]; !ok {
		return false
	}
	delete(f.pending, p)
	return true
}

func (f *Face) pollLoop() {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
		case <-f.wake:
		}
		f.poll()
	}
}

func (f *Face) poll() {
	f.mu.Lock()
	batch := make([]*pendingInterest, 0, len(f.pending))
	for p := range f.pending {
		batch = append(batch, p)
	}
	f.mu.Unlock()

	now := time.Now()
	for _, p := range batch {
		dataName, content, found, err := f.lookup(p.name, p.sel)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			f.logger.Debugw("Lookup failed", "name", p.name, "error", err)
		}
		switch {
		case found:
			if f.drop(p) {
				f.deliver(p, dataName, content)
			}
		case !now.Before(p.deadline):
			if f.drop(p) {
				f.timeout(p)
			}
		}
	}
}

func (f *Face) lookup(name string, sel ports.Selector) (string, []byte, bool, error) {
	if sel == ports.SelectExact {
		content, err := f.client.Get(f.ctx, dataKey(name)).Bytes()
		if errors.Is(err, redis.Nil) {
			return "", nil, false, nil
		}
		if err != nil {
			return "", nil, false, err
		}
		return name, content, true, nil
	}

	idx := indexKey(name)
	members, err := f.client.ZRevRange(f.ctx, idx, 0, rightmostScan-1).Result()
	if err != nil {
		return "", nil, false, err
	}
	for _, member := range members {
		content, err := f.client.Get(f.ctx, dataKey(member)).Bytes()
		if errors.Is(err, redis.Nil) {
			f.client.ZRem(f.ctx, idx, member)
			continue
		}
		if err != nil {
			return "", nil, false, err
		}
		return member, content, true, nil
	}
	return "", nil, false, nil
}

func (f *Face) deliver(p *pendingInterest, name string, content []byte) {
	f.queue.Push(func() {
		if p.handlers.OnData != nil {
			p.handlers.OnData(name, content)
		}
	})
}

func (f *Face) timeout(p *pendingInterest) {
	f.queue.Push(func() {
		action := ports.GiveUp
		if p.handlers.OnTimeout != nil {
			action = p.handlers.OnTimeout(p.name)
		}
		if action != ports.Reexpress {
			return
		}
		if err := f.Express(p.name, p.sel, p.handlers); err != nil {
			f.logger.Debugw("Re-expression failed", "name", p.name, "error", err)
		}
	})
}

func (f *Face) interestLoop(ch <-chan *redis.Message) {
	for msg := range ch {
		name := msg.Payload

		f.mu.Lock()
		var handlers []func(string)
		for prefix, fn := range f.prefixes {
			if domain.HasNamePrefix(name, prefix) {
				handlers = append(handlers, fn)
			}
		}
		f.mu.Unlock()

		for _, fn := range handlers {
			f.queue.Push(func() { fn(name) })
		}
	}
}
