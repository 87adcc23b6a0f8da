package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
)

var errExpressFailed = errors.New("express failed")

type expressedInterest struct {
	name     string
	selector ports.Selector
	handlers *ports.InterestHandlers
}

type fakeTransport struct {
	mu          sync.Mutex
	expressed   []expressedInterest
	published   map[string][]byte
	order       []string
	prefixes    map[string]func(string)
	failExpress bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		published: make(map[string][]byte),
		prefixes:  make(map[string]func(string)),
	}
}

func (t *fakeTransport) Express(name string, sel ports.Selector, h *ports.InterestHandlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failExpress {
		return errExpressFailed
	}
	t.expressed = append(t.expressed, expressedInterest{name: name, selector: sel, handlers: h})
	return nil
}

func (t *fakeTransport) Publish(name string, content []byte, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published[name] = content
	t.order = append(t.order, name)
	return nil
}

func (t *fakeTransport) RegisterPrefix(prefix string, fn func(string)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefixes[prefix] = fn
	return nil
}

func (t *fakeTransport) UnregisterPrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.prefixes, prefix)
}

func (t *fakeTransport) Close() error { return nil }

// take returns and forgets everything expressed so far.
func (t *fakeTransport) take() []expressedInterest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.expressed
	t.expressed = nil
	return out
}

func (t *fakeTransport) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.expressed))
	for _, e := range t.expressed {
		out = append(out, e.name)
	}
	return out
}

func (t *fakeTransport) content(name string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.published[name]
	return c, ok
}

func (t *fakeTransport) prefix(name string) (func(string), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn, ok := t.prefixes[name]
	return fn, ok
}

type publishedRecord struct {
	name    string
	content []byte
}

type fakeSocket struct {
	mu        sync.Mutex
	onMessage func([]byte)
	published []publishedRecord
	removed   []string
	closed    bool
	failWith  error
}

func (s *fakeSocket) Start(onMessage func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = onMessage
	return nil
}

func (s *fakeSocket) Publish(_ context.Context, name string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.published = append(s.published, publishedRecord{name: name, content: content})
	return nil
}

func (s *fakeSocket) Remove(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, prefix)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) records() []publishedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedRecord(nil), s.published...)
}

func (s *fakeSocket) messages() []domain.PresenceMessage {
	var out []domain.PresenceMessage
	for _, r := range s.records() {
		msg, err := domain.DecodePresence(r.content)
		if err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (s *fakeSocket) deliver(raw []byte) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type delivery struct {
	uid     string
	payload []byte
}

type fakeSink struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (s *fakeSink) Deliver(uid string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, delivery{uid: uid, payload: payload})
}

func (s *fakeSink) all() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.deliveries...)
}

type staticDirectory struct {
	mu    sync.Mutex
	alive map[string]bool
}

func newStaticDirectory(uids ...string) *staticDirectory {
	d := &staticDirectory{alive: make(map[string]bool)}
	for _, uid := range uids {
		d.alive[uid] = true
	}
	return d
}

func (d *staticDirectory) Has(uid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alive[uid]
}

func (d *staticDirectory) remove(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.alive, uid)
}

type fakeClient struct {
	id   string
	mu   sync.Mutex
	sent []*domain.RTCMessage
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(msg *domain.RTCMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.EventName)
	}
	return out
}

func (c *fakeClient) last(event string) *domain.RTCMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].EventName == event {
			return c.sent[i]
		}
	}
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func encode(msgType domain.MessageType, peer domain.Peer, extra []byte) []byte {
	raw, err := domain.EncodePresence(domain.PresenceMessage{Type: msgType, User: peer, Extra: extra})
	if err != nil {
		panic(err)
	}
	return raw
}
