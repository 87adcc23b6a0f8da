// Package softstate keeps objects alive only as long as somebody keeps
// refreshing them.
package softstate

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrNotFound is returned by Delete and Refresh for unknown keys.
var ErrNotFound = errors.New("entry not found")

// State records when an object was last refreshed and how long that
// refresh is good for.
type State struct {
	Timestamp time.Time
	TTL       time.Duration
}

func NewState(now time.Time, ttl time.Duration) State {
	return State{Timestamp: now, TTL: ttl}
}

// IsActive reports whether the object is still within its ttl.
func (s *State) IsActive(now time.Time) bool {
	return now.Sub(s.Timestamp) < s.TTL
}

// Object is anything stored in a Table.
type Object interface {
	SoftState() *State
}

// Config controls expiry and the cadence of the background jobs.
type Config struct {
	TTL          time.Duration
	ReapInterval time.Duration
}

// DefaultConfig returns a 5s ttl reaped roughly every 10s.
func DefaultConfig() Config {
	return Config{
		TTL:          5 * time.Second,
		ReapInterval: 10 * time.Second,
	}
}

// Option customizes a Table.
type Option func(*options)

type options struct {
	now    func() time.Time
	random func() float64
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom replaces the [0,1) source used for jitter.
func WithRandom(random func() float64) Option {
	return func(o *options) { o.random = random }
}

// Table is a thread-safe key to Object map whose entries expire when not
// refreshed. Callbacks are never invoked while the table lock is held, so
// they may call back into the table.
type Table[K comparable, V Object] struct {
	items map[K]V
	mu    sync.RWMutex

	cfg         Config
	now         func() time.Time
	random      func() float64
	refreshSelf func()
	onExpired   func(V)

	stop     chan struct{}
	stopOnce sync.Once
	startMu  sync.Mutex
	started  bool
}

// New creates a table. refreshSelf is invoked on the jittered refresh
// schedule and onExpired once per reaped entry; either may be nil.
func New[K comparable, V Object](cfg Config, refreshSelf func(), onExpired func(V), opts ...Option) *Table[K, V] {
	o := options{now: time.Now, random: rand.Float64}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[K, V]{
		items:       make(map[K]V),
		cfg:         cfg,
		now:         o.now,
		random:      o.random,
		refreshSelf: refreshSelf,
		onExpired:   onExpired,
		stop:        make(chan struct{}),
	}
}

// Start launches the reap and refresh-self jobs. Calling it twice is a no-op.
func (t *Table[K, V]) Start() {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return
	}
	t.started = true

	go t.runJob(func() time.Duration { return ReapDelay(t.cfg.ReapInterval, t.random()) }, func() { t.Reap() })
	if t.refreshSelf != nil {
		go t.runJob(func() time.Duration { return RefreshDelay(t.cfg.TTL, t.random()) }, t.refreshSelf)
	}
}

// runJob fires fn, then recomputes a randomized delay for the next firing.
func (t *Table[K, V]) runJob(next func() time.Duration, fn func()) {
	timer := time.NewTimer(next())
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			select {
			case <-t.stop:
				return
			default:
			}
			fn()
			timer.Reset(next())
		}
	}
}

// ScheduleOnce runs fn after delay unless the table is shut down first.
func (t *Table[K, V]) ScheduleOnce(delay time.Duration, fn func()) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-t.stop:
		case <-timer.C:
			fn()
		}
	}()
}

// Shutdown stops all background jobs. It does not wait for a job that is
// already running, so it is safe to call from inside one.
func (t *Table[K, V]) Shutdown() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed once Shutdown has been called.
func (t *Table[K, V]) Done() <-chan struct{} {
	return t.stop
}

func (t *Table[K, V]) Get(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[key]
	return v, ok
}

func (t *Table[K, V]) Set(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[key] = value
}

// Add inserts value only when key is absent and reports whether it did.
func (t *Table[K, V]) Add(key K, value V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; ok {
		return false
	}
	t.items[key] = value
	return true
}

func (t *Table[K, V]) Delete(key K) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; !ok {
		return ErrNotFound
	}
	delete(t.items, key)
	return nil
}

// Refresh stamps the entry with the current time.
func (t *Table[K, V]) Refresh(key K) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[key]
	if !ok {
		return ErrNotFound
	}
	v.SoftState().Timestamp = t.now()
	return nil
}

// Values returns a snapshot of the stored values.
func (t *Table[K, V]) Values() []V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]V, 0, len(t.items))
	for _, v := range t.items {
		out = append(out, v)
	}
	return out
}

// Range calls fn for every entry under the read lock. fn must not call
// back into the table.
func (t *Table[K, V]) Range(fn func(K, V) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, v := range t.items {
		if !fn(k, v) {
			return
		}
	}
}

func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Reap drops every expired entry in one critical section and then hands
// the expired entries to onExpired. It returns how many were dropped.
func (t *Table[K, V]) Reap() int {
	now := t.now()

	t.mu.Lock()
	active := make(map[K]V, len(t.items))
	var expired []V
	for k, v := range t.items {
		if v.SoftState().IsActive(now) {
			active[k] = v
		} else {
			expired = append(expired, v)
		}
	}
	t.items = active
	t.mu.Unlock()

	if t.onExpired != nil {
		for _, v := range expired {
			t.onExpired(v)
		}
	}
	return len(expired)
}

// ReapDelay maps r in [0,1) onto [interval, 1.25*interval).
func ReapDelay(interval time.Duration, r float64) time.Duration {
	return interval + time.Duration(float64(interval)/4*r)
}

// RefreshDelay maps r in [0,1) onto [0.75*ttl, ttl).
func RefreshDelay(ttl time.Duration, r float64) time.Duration {
	return ttl*3/4 + time.Duration(float64(ttl)/4*r)
}
