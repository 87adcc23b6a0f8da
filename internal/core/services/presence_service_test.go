package services

import (
	"sync"
	"testing"
	"time"

	"ccngate/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recordedEvents struct {
	mu       sync.Mutex
	joins    []domain.Peer
	leaves   []domain.Peer
	messages []string
}

func (r *recordedEvents) events() PresenceEvents {
	return PresenceEvents{
		OnJoin: func(p domain.Peer) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.joins = append(r.joins, p)
		},
		OnLeave: func(p domain.Peer) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.leaves = append(r.leaves, p)
		},
		OnMessage: func(p domain.Peer, payload []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, p.UID+":"+string(payload))
		},
	}
}

func (r *recordedEvents) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.joins), len(r.leaves), len(r.messages)
}

type directoryFixture struct {
	dir    *Directory
	socket *fakeSocket
	clock  *manualClock
	events *recordedEvents
}

func newDirectoryFixture(t *testing.T, cfg PresenceConfig) *directoryFixture {
	t.Helper()
	f := &directoryFixture{socket: &fakeSocket{}, clock: newManualClock(), events: &recordedEvents{}}
	f.dir = NewDirectory(localPeer, f.socket, f.events.events(), cfg, zaptest.NewLogger(t).Sugar(),
		WithDirectoryClock(f.clock.Now))
	return f
}

func testPresenceConfig() PresenceConfig {
	return PresenceConfig{
		TTL:           5 * time.Second,
		ReapInterval:  time.Hour,
		AnnounceDelay: time.Hour,
		LeaveGrace:    10 * time.Millisecond,
	}
}

func TestDirectory_AnnounceJoinThenHello(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	assert.Equal(t, PresenceInit, f.dir.Status())

	f.dir.Announce()
	assert.Equal(t, PresenceJoined, f.dir.Status())
	f.dir.Announce()

	records := f.socket.records()
	require.Len(t, records, 2)
	session := f.clock.Now().Unix()
	assert.Equal(t, domain.SyncRecordName(localPeer.SyncPrefix(), session, 1), records[0].name)
	assert.Equal(t, domain.SyncRecordName(localPeer.SyncPrefix(), session, 2), records[1].name)

	msgs := f.socket.messages()
	assert.Equal(t, domain.MessageJoin, msgs[0].Type)
	assert.Equal(t, domain.MessageHello, msgs[1].Type)
	assert.Equal(t, localPeer, msgs[0].User)
}

func TestDirectory_JoinEmitsOnce(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())

	f.dir.ProcessMessage(encode(domain.MessageJoin, remotePeer, nil))
	f.dir.ProcessMessage(encode(domain.MessageJoin, remotePeer, nil))

	joins, leaves, _ := f.events.counts()
	assert.Equal(t, 1, joins)
	assert.Zero(t, leaves)
	assert.True(t, f.dir.Has(remotePeer.UID))
	assert.Len(t, f.dir.Peers(), 1)
}

func TestDirectory_HelloOnlyRefreshes(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	f.dir.ProcessMessage(encode(domain.MessageJoin, remotePeer, nil))
	before := f.dir.Roster()
	require.Len(t, before, 1)

	f.clock.Advance(2 * time.Second)
	renamed := remotePeer
	renamed.Nick = "mallory"
	f.dir.ProcessMessage(encode(domain.MessageHello, renamed, nil))

	after := f.dir.Roster()
	require.Len(t, after, 1)
	assert.Equal(t, remotePeer, after[0].Peer, "identity fields untouched")
	assert.Equal(t, before[0].LastSeen.Add(2*time.Second), after[0].LastSeen)

	joins, _, _ := f.events.counts()
	assert.Equal(t, 1, joins)
}

func TestDirectory_HelloFromUnknownPeerIsJoin(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	f.dir.ProcessMessage(encode(domain.MessageHello, remotePeer, nil))

	joins, _, _ := f.events.counts()
	assert.Equal(t, 1, joins)
	assert.True(t, f.dir.Has(remotePeer.UID))
}

func TestDirectory_Leave(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	f.dir.ProcessMessage(encode(domain.MessageJoin, remotePeer, nil))
	f.dir.ProcessMessage(encode(domain.MessageLeave, remotePeer, nil))

	_, leaves, _ := f.events.counts()
	assert.Equal(t, 1, leaves)
	assert.False(t, f.dir.Has(remotePeer.UID))

	f.dir.ProcessMessage(encode(domain.MessageLeave, remotePeer, nil))
	_, leaves, _ = f.events.counts()
	assert.Equal(t, 1, leaves, "leave for unknown peer is not re-emitted")
}

func TestDirectory_ChatDoesNotTouchRoster(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	f.dir.ProcessMessage(encode(domain.MessageChat, remotePeer, []byte("hello")))

	joins, _, messages := f.events.counts()
	assert.Zero(t, joins)
	assert.Equal(t, 1, messages)
	assert.Equal(t, "remote:hello", f.events.messages[0])
	assert.False(t, f.dir.Has(remotePeer.UID))
}

func TestDirectory_DropsMalformedAndOwnRecords(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	f.dir.ProcessMessage([]byte{0xff, 0xfe, 0x00})
	f.dir.ProcessMessage(encode(domain.MessageJoin, localPeer, nil))

	joins, leaves, messages := f.events.counts()
	assert.Zero(t, joins+leaves+messages)
}

func TestDirectory_ReapSynthesizesLeaveOnce(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	f.dir.ProcessMessage(encode(domain.MessageJoin, remotePeer, nil))

	f.clock.Advance(4 * time.Second)
	assert.Zero(t, f.dir.table.Reap())

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.dir.table.Reap())
	assert.Zero(t, f.dir.table.Reap())

	_, leaves, _ := f.events.counts()
	require.Equal(t, 1, leaves)
	assert.Equal(t, remotePeer, f.events.leaves[0])
	assert.False(t, f.dir.Has(remotePeer.UID))
}

func TestDirectory_LeaveTearsDown(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	require.NoError(t, f.dir.Start())
	f.dir.Announce()
	f.dir.ProcessMessage(encode(domain.MessageJoin, remotePeer, nil))

	done := f.dir.Leave()
	assert.Equal(t, PresenceStopped, f.dir.Status())

	msgs := f.socket.messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.MessageLeave, last.Type)
	assert.Nil(t, last.Extra)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("leave did not complete")
	}
	assert.Equal(t, []string{localPeer.SyncPrefix()}, f.socket.removed)
	assert.True(t, f.socket.isClosed())

	// Stopped is terminal.
	f.dir.Announce()
	f.dir.ProcessMessage(encode(domain.MessageChat, remotePeer, []byte("late")))
	assert.Len(t, f.socket.messages(), len(msgs))
	_, _, messages := f.events.counts()
	assert.Zero(t, messages)
	assert.ErrorIs(t, f.dir.Chat("hi"), domain.ErrSessionNotRunning)

	assert.Equal(t, done, f.dir.Leave())
}

func TestDirectory_LeaveWithoutAnnouncement(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	socket := &fakeSocket{failWith: domain.ErrTransportClosed}
	dir := NewDirectory(localPeer, socket, (&recordedEvents{}).events(), testPresenceConfig(), zap.New(core).Sugar())

	select {
	case <-dir.Leave():
	case <-time.After(time.Second):
		t.Fatal("leave did not complete")
	}
	assert.Empty(t, socket.records())
	assert.True(t, socket.isClosed())

	unannounced := logs.FilterMessage("Leaving chatroom unannounced").All()
	require.Len(t, unannounced, 1)
	assert.Equal(t, localPeer.UID, unannounced[0].ContextMap()["uid"])
}

func TestDirectory_StartAnnouncesAfterDelay(t *testing.T) {
	cfg := testPresenceConfig()
	cfg.AnnounceDelay = 5 * time.Millisecond
	f := newDirectoryFixture(t, cfg)
	require.NoError(t, f.dir.Start())
	defer f.dir.table.Shutdown()

	assert.Eventually(t, func() bool {
		msgs := f.socket.messages()
		return len(msgs) == 1 && msgs[0].Type == domain.MessageJoin
	}, time.Second, 5*time.Millisecond)

	f.socket.deliver(encode(domain.MessageHello, remotePeer, nil))
	assert.True(t, f.dir.Has(remotePeer.UID))
}

func TestDirectory_ChatPublishes(t *testing.T) {
	f := newDirectoryFixture(t, testPresenceConfig())
	require.NoError(t, f.dir.Chat("hi all"))

	msgs := f.socket.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageChat, msgs[0].Type)
	assert.Equal(t, []byte("hi all"), msgs[0].Extra)
}
