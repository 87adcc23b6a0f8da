// Package memory is an in-process pull network: a shared content store
// with freshness expiry, pending interests with lifetimes, prefix
// handlers and chatroom notifications. Gateways in one process that share
// a Network can talk to each other.
package memory

import (
	"context"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/internal/infrastructure/transport/face"

	"go.uber.org/zap"
)

type Config struct {
	InterestLifetime time.Duration
	SweepInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		InterestLifetime: 4 * time.Second,
		SweepInterval:    time.Second,
	}
}

type Option func(*Network)

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(n *Network) { n.now = now }
}

type entry struct {
	content []byte
	expires time.Time
}

type pendingInterest struct {
	face     *Face
	name     string
	sel      ports.Selector
	handlers *ports.InterestHandlers
	timer    *time.Timer
}

type Network struct {
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time

	mu      sync.Mutex
	store   map[string]entry
	pending map[*pendingInterest]struct{}
	faces   map[*Face]struct{}
	rooms   map[string]map[uint64]func(string)
	nextSub uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewNetwork(cfg Config, logger *zap.SugaredLogger, opts ...Option) *Network {
	if cfg.InterestLifetime <= 0 {
		cfg.InterestLifetime = DefaultConfig().InterestLifetime
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	n := &Network{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		store:   make(map[string]entry),
		pending: make(map[*pendingInterest]struct{}),
		faces:   make(map[*Face]struct{}),
		rooms:   make(map[string]map[uint64]func(string)),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.sweepLoop()
	return n
}

// NewFace attaches a new face with its own processing goroutine.
func (n *Network) NewFace() *Face {
	f := &Face{
		net:      n,
		queue:    face.NewQueue(),
		prefixes: make(map[string]func(string)),
	}
	go f.queue.Run()

	n.mu.Lock()
	n.faces[f] = struct{}{}
	n.mu.Unlock()
	return f
}

// Close stops the janitor. Faces must be closed separately.
func (n *Network) Close() {
	n.stopOnce.Do(func() { close(n.stop) })
}

func (n *Network) sweepLoop() {
	ticker := time.NewTicker(n.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.sweep()
		}
	}
}

func (n *Network) sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	removed := 0
	for name, e := range n.store {
		if e.expired(now) {
			delete(n.store, name)
			removed++
		}
	}
	return removed
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// lookup must be called with n.mu held.
func (n *Network) lookup(name string, sel ports.Selector) (string, []byte, bool) {
	now := n.now()
	if sel == ports.SelectExact {
		e, ok := n.store[name]
		if !ok {
			return "", nil, false
		}
		if e.expired(now) {
			delete(n.store, name)
			return "", nil, false
		}
		return name, e.content, true
	}

	var candidates []string
	for dataName, e := range n.store {
		if e.expired(now) || !face.Satisfies(name, sel, dataName) {
			continue
		}
		candidates = append(candidates, dataName)
	}
	best, ok := face.Rightmost(name, candidates)
	if !ok {
		return "", nil, false
	}
	return best, n.store[best].content, true
}

type producer struct {
	face *Face
	fn   func(string)
}

// producersFor must be called with n.mu held.
func (n *Network) producersFor(name string) []producer {
	var out []producer
	for f := range n.faces {
		f.mu.Lock()
		for prefix, fn := range f.prefixes {
			if domain.HasNamePrefix(name, prefix) {
				out = append(out, producer{face: f, fn: fn})
			}
		}
		f.mu.Unlock()
	}
	return out
}

func (n *Network) express(f *Face, name string, sel ports.Selector, handlers *ports.InterestHandlers) {
	n.mu.Lock()
	if dataName, content, ok := n.lookup(name, sel); ok {
		n.mu.Unlock()
		f.deliver(handlers, dataName, content)
		return
	}

	p := &pendingInterest{face: f, name: name, sel: sel, handlers: handlers}
	n.pending[p] = struct{}{}
	p.timer = time.AfterFunc(n.cfg.InterestLifetime, func() { n.expire(p) })
	producers := n.producersFor(name)
	n.mu.Unlock()

	for _, pr := range producers {
		fn := pr.fn
		pr.face.queue.Push(func() { fn(name) })
	}
}

func (n *Network) expire(p *pendingInterest) {
	n.mu.Lock()
	if _, ok := n.pending[p]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.pending, p)
	n.mu.Unlock()

	p.face.queue.Push(func() {
		action := ports.GiveUp
		if p.handlers.OnTimeout != nil {
			action = p.handlers.OnTimeout(p.name)
		}
		if action != ports.Reexpress {
			return
		}
		if err := p.face.Express(p.name, p.sel, p.handlers); err != nil {
			n.logger.Debugw("Re-expression failed", "name", p.name, "error", err)
		}
	})
}

func (n *Network) publish(name string, content []byte, freshness time.Duration) {
	e := entry{content: append([]byte(nil), content...)}

	n.mu.Lock()
	if freshness > 0 {
		e.expires = n.now().Add(freshness)
	}
	n.store[name] = e

	var satisfied []*pendingInterest
	for p := range n.pending {
		if face.Satisfies(p.name, p.sel, name) {
			delete(n.pending, p)
			p.timer.Stop()
			satisfied = append(satisfied, p)
		}
	}
	n.mu.Unlock()

	for _, p := range satisfied {
		p.face.deliver(p.handlers, name, e.content)
	}
}

func (n *Network) detach(f *Face) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.faces, f)
	for p := range n.pending {
		if p.face == f {
			p.timer.Stop()
			delete(n.pending, p)
		}
	}
}

// Notify hands name to every subscriber of chatroom.
func (n *Network) Notify(ctx context.Context, chatroom, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	subs := make([]func(string), 0, len(n.rooms[chatroom]))
	for _, fn := range n.rooms[chatroom] {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(name)
	}
	return nil
}

func (n *Network) Subscribe(chatroom string, fn func(name string)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextSub++
	id := n.nextSub
	if n.rooms[chatroom] == nil {
		n.rooms[chatroom] = make(map[uint64]func(string))
	}
	n.rooms[chatroom][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.rooms[chatroom], id)
		if len(n.rooms[chatroom]) == 0 {
			delete(n.rooms, chatroom)
		}
	}, nil
}

// Face is one attachment point on a Network. All handler callbacks of a
// face run on its own goroutine.
type Face struct {
	net   *Network
	queue *face.Queue

	mu       sync.Mutex
	prefixes map[string]func(string)
}

func (f *Face) Express(name string, sel ports.Selector, handlers *ports.InterestHandlers) error {
	if f.queue.Closed() {
		return domain.ErrTransportClosed
	}
	f.net.express(f, name, sel, handlers)
	return nil
}

func (f *Face) Publish(name string, content []byte, freshness time.Duration) error {
	if f.queue.Closed() {
		return domain.ErrTransportClosed
	}
	f.net.publish(name, content, freshness)
	return nil
}

func (f *Face) RegisterPrefix(prefix string, onInterest func(name string)) error {
	if f.queue.Closed() {
		return domain.ErrTransportClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes[prefix] = onInterest
	return nil
}

func (f *Face) UnregisterPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prefixes, prefix)
}

func (f *Face) Close() error {
	f.queue.Close()
	f.mu.Lock()
	f.prefixes = make(map[string]func(string))
	f.mu.Unlock()
	f.net.detach(f)
	return nil
}

func (f *Face) deliver(handlers *ports.InterestHandlers, name string, content []byte) {
	f.queue.Push(func() {
		if handlers.OnData != nil {
			handlers.OnData(name, content)
		}
	})
}
