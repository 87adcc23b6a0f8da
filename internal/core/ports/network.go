package ports

import (
	"context"
	"time"
)

// Selector chooses how a pull request is matched against published names.
type Selector int

const (
	// SelectExact matches only the requested name.
	SelectExact Selector = iota
	// SelectRightmost returns the most recent child of the requested prefix.
	SelectRightmost
)

// TimeoutAction tells the transport what to do with a request that lapsed.
type TimeoutAction int

const (
	GiveUp TimeoutAction = iota
	Reexpress
)

// InterestHandlers are registered once per logical stream and shared by
// every request of that stream. Both callbacks run on the transport's
// processing goroutine. A nil OnTimeout means GiveUp.
type InterestHandlers struct {
	OnData    func(name string, content []byte)
	OnTimeout func(name string) TimeoutAction
}

// Transport is a face onto the pull network. A request yields at most one
// reply or one timeout.
type Transport interface {
	Express(name string, sel Selector, handlers *InterestHandlers) error
	Publish(name string, content []byte, freshness time.Duration) error
	RegisterPrefix(prefix string, onInterest func(name string)) error
	UnregisterPrefix(prefix string)
	Close() error
}

// Notifier broadcasts newly published sync record names to a chatroom.
type Notifier interface {
	Notify(ctx context.Context, chatroom, name string) error
	Subscribe(chatroom string, fn func(name string)) (unsubscribe func(), err error)
}

// SyncSocket publishes presence records under the local sync prefix and
// hands remote records to the directory.
type SyncSocket interface {
	Start(onMessage func(content []byte)) error
	Publish(ctx context.Context, name string, content []byte) error
	Remove(prefix string) error
	Close() error
}
