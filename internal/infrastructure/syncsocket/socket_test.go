package syncsocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/services"
	"ccngate/internal/infrastructure/transport/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	alice = domain.Peer{Nick: "alice", Prefix: "/ndn/chat", UID: "a"}
	bob   = domain.Peer{Nick: "bob", Prefix: "/ndn/chat", UID: "b"}
)

type inbox struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (i *inbox) add(content []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, content)
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

func newNetwork(t *testing.T) *memory.Network {
	t.Helper()
	n := memory.NewNetwork(memory.Config{InterestLifetime: 50 * time.Millisecond}, zaptest.NewLogger(t).Sugar())
	t.Cleanup(n.Close)
	return n
}

func newSocket(t *testing.T, n *memory.Network, local domain.Peer) *Socket {
	t.Helper()
	s := New(local, Config{Chatroom: "lobby", Freshness: time.Minute}, n.NewFace(), n, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSocket_DeliversRemoteRecordsOnly(t *testing.T) {
	n := newNetwork(t)
	sa, sb := newSocket(t, n, alice), newSocket(t, n, bob)

	var inA, inB inbox
	require.NoError(t, sa.Start(inA.add))
	require.NoError(t, sb.Start(inB.add))

	name := domain.SyncRecordName(alice.SyncPrefix(), 1, 1)
	require.NoError(t, sa.Publish(context.Background(), name, []byte("join")))

	assert.Eventually(t, func() bool { return inB.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, inA.len())
	inB.mu.Lock()
	assert.Equal(t, []byte("join"), inB.msgs[0])
	inB.mu.Unlock()
}

func TestSocket_StartTwice(t *testing.T) {
	n := newNetwork(t)
	s := newSocket(t, n, alice)

	require.NoError(t, s.Start(func([]byte) {}))
	assert.Error(t, s.Start(func([]byte) {}))
}

func TestSocket_RemoveWithdrawsPrefix(t *testing.T) {
	n := newNetwork(t)
	s := newSocket(t, n, alice)
	require.NoError(t, s.Start(func([]byte) {}))

	require.NoError(t, s.Remove(alice.SyncPrefix()))
	err := s.Publish(context.Background(), domain.SyncRecordName(alice.SyncPrefix(), 1, 2), []byte("x"))
	assert.ErrorIs(t, err, domain.ErrTransportClosed)
}

func TestSocket_ClosedStopsDelivery(t *testing.T) {
	n := newNetwork(t)
	sa, sb := newSocket(t, n, alice), newSocket(t, n, bob)

	var inB inbox
	require.NoError(t, sa.Start(func([]byte) {}))
	require.NoError(t, sb.Start(inB.add))
	require.NoError(t, sb.Close())
	require.NoError(t, sb.Close())

	require.NoError(t, sa.Publish(context.Background(), domain.SyncRecordName(alice.SyncPrefix(), 1, 1), []byte("x")))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, inB.len())

	assert.ErrorIs(t, sb.Publish(context.Background(), "/x", nil), domain.ErrTransportClosed)
	assert.ErrorIs(t, sb.Start(func([]byte) {}), domain.ErrTransportClosed)
}

type peerLog struct {
	mu     sync.Mutex
	joined []string
	left   []string
	chats  []string
}

func (l *peerLog) events() services.PresenceEvents {
	return services.PresenceEvents{
		OnJoin: func(p domain.Peer) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.joined = append(l.joined, p.UID)
		},
		OnLeave: func(p domain.Peer) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.left = append(l.left, p.UID)
		},
		OnMessage: func(p domain.Peer, payload []byte) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.chats = append(l.chats, p.UID+":"+string(payload))
		},
	}
}

func (l *peerLog) snapshot() ([]string, []string, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.joined...), append([]string(nil), l.left...), append([]string(nil), l.chats...)
}

func TestDirectories_DiscoverEachOtherOverNetwork(t *testing.T) {
	n := newNetwork(t)
	cfg := services.PresenceConfig{
		TTL:           5 * time.Second,
		ReapInterval:  5 * time.Second,
		AnnounceDelay: 20 * time.Millisecond,
		LeaveGrace:    5 * time.Millisecond,
	}

	var logA, logB peerLog
	da := services.NewDirectory(alice, newSocket(t, n, alice), logA.events(), cfg, zaptest.NewLogger(t).Sugar())
	db := services.NewDirectory(bob, newSocket(t, n, bob), logB.events(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, da.Start())
	require.NoError(t, db.Start())

	assert.Eventually(t, func() bool { return da.Has(bob.UID) && db.Has(alice.UID) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, da.Chat("hello"))
	assert.Eventually(t, func() bool {
		_, _, chats := logB.snapshot()
		return len(chats) == 1 && chats[0] == "a:hello"
	}, time.Second, 5*time.Millisecond)

	select {
	case <-da.Leave():
	case <-time.After(time.Second):
		t.Fatal("leave did not finish")
	}
	assert.Eventually(t, func() bool { return !db.Has(alice.UID) }, time.Second, 5*time.Millisecond)

	joinedB, leftB, _ := logB.snapshot()
	assert.Equal(t, []string{"a"}, joinedB)
	assert.Equal(t, []string{"a"}, leftB)

	<-db.Leave()
}
