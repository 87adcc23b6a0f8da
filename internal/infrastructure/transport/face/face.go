// Package face holds what every pull network face shares: the serial
// callback queue and the name matching rules.
package face

import (
	"strings"
	"sync"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
)

// Queue runs callbacks one at a time, in push order, on a single goroutine.
// Push never blocks, so callbacks may push more work.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes callbacks until Close is called.
func (q *Queue) Run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			fn, ok := q.pop()
			if !ok {
				break
			}
			fn()
		}
	}
}

func (q *Queue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

// Push schedules fn and reports false once the queue is closed.
func (q *Queue) Push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close drops pending callbacks and stops Run. It does not wait, so it is
// safe to call from a callback.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Satisfies reports whether data named dataName answers a request for name.
// Rightmost requests are answered by any strict descendant.
func Satisfies(name string, sel ports.Selector, dataName string) bool {
	if sel == ports.SelectExact {
		return dataName == name
	}
	return dataName != name && domain.HasNamePrefix(dataName, name)
}

// Child returns the component directly below prefix in name.
func Child(prefix, name string) string {
	rest := strings.TrimPrefix(name, strings.TrimRight(prefix, "/")+"/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Less orders name components canonically: shorter first, then bytewise.
// Decimal sequence numbers therefore sort numerically.
func Less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Rightmost picks the candidate whose child component under prefix sorts
// last. Candidates not below prefix are ignored.
func Rightmost(prefix string, candidates []string) (string, bool) {
	var (
		best      string
		bestChild string
		found     bool
	)
	for _, name := range candidates {
		if !Satisfies(prefix, ports.SelectRightmost, name) {
			continue
		}
		child := Child(prefix, name)
		if !found || Less(bestChild, child) || (child == bestChild && Less(best, name)) {
			best, bestChild, found = name, child, true
		}
	}
	return best, found
}
