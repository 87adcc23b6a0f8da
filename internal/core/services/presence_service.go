package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/pkg/softstate"
	"ccngate/pkg/tracing"

	"go.uber.org/zap"
)

type PresenceStatus int

const (
	PresenceInit PresenceStatus = iota
	PresenceJoined
	PresenceStopped
)

func (s PresenceStatus) String() string {
	switch s {
	case PresenceInit:
		return "init"
	case PresenceJoined:
		return "joined"
	case PresenceStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PresenceEvents are raised by the directory. They never run with the
// directory's table locked.
type PresenceEvents struct {
	OnJoin    func(peer domain.Peer)
	OnLeave   func(peer domain.Peer)
	OnMessage func(peer domain.Peer, payload []byte)
}

type PresenceConfig struct {
	TTL           time.Duration
	ReapInterval  time.Duration
	AnnounceDelay time.Duration
	LeaveGrace    time.Duration
}

func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		TTL:           5 * time.Second,
		ReapInterval:  10 * time.Second,
		AnnounceDelay: 500 * time.Millisecond,
		LeaveGrace:    500 * time.Millisecond,
	}
}

// Directory tracks which remote peers of a chatroom are alive, using only
// their periodic announcements and ttl expiry.
type Directory struct {
	local   domain.Peer
	socket  ports.SyncSocket
	events  PresenceEvents
	cfg     PresenceConfig
	metrics ports.GatewayMetrics
	logger  *zap.SugaredLogger
	now     func() time.Time

	table *softstate.Table[string, *domain.RemotePeer]

	mu      sync.Mutex
	status  PresenceStatus
	session int64
	seq     uint64
	done    chan struct{}
}

type DirectoryOption func(*Directory)

// WithDirectoryClock replaces time.Now for both the directory and its table.
func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) { d.now = now }
}

func WithDirectoryMetrics(m ports.GatewayMetrics) DirectoryOption {
	return func(d *Directory) { d.metrics = m }
}

func NewDirectory(
	local domain.Peer,
	socket ports.SyncSocket,
	events PresenceEvents,
	cfg PresenceConfig,
	logger *zap.SugaredLogger,
	opts ...DirectoryOption,
) *Directory {
	d := &Directory{
		local:   local,
		socket:  socket,
		events:  events,
		cfg:     cfg,
		metrics: ports.NoopMetrics{},
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.session = d.now().Unix()
	d.table = softstate.New[string, *domain.RemotePeer](
		softstate.Config{TTL: cfg.TTL, ReapInterval: cfg.ReapInterval},
		d.Announce,
		d.reaped,
		softstate.WithClock(d.now),
	)
	return d
}

// Start subscribes to the chatroom, launches the refresh and reap jobs and
// schedules the first announcement.
func (d *Directory) Start() error {
	if err := d.socket.Start(d.ProcessMessage); err != nil {
		return fmt.Errorf("failed to start sync socket: %w", err)
	}
	d.table.Start()
	d.table.ScheduleOnce(d.cfg.AnnounceDelay, d.Announce)

	d.logger.Infow("Presence directory started",
		"uid", d.local.UID,
		"sync_prefix", d.local.SyncPrefix(),
		"session", d.session,
	)
	return nil
}

func (d *Directory) Local() domain.Peer { return d.local }

func (d *Directory) Status() PresenceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Directory) Session() int64 { return d.session }

// Announce publishes Join on first call and Hello afterwards.
func (d *Directory) Announce() {
	d.mu.Lock()
	if d.status == PresenceStopped {
		d.mu.Unlock()
		return
	}
	msgType := domain.MessageHello
	if d.status == PresenceInit {
		msgType = domain.MessageJoin
		d.status = PresenceJoined
	}
	d.mu.Unlock()

	d.publish(domain.PresenceMessage{Type: msgType, User: d.local})
}

// Chat publishes a text message to the chatroom.
func (d *Directory) Chat(text string) error {
	if d.Status() == PresenceStopped {
		return domain.ErrSessionNotRunning
	}
	return d.publish(domain.PresenceMessage{Type: domain.MessageChat, User: d.local, Extra: []byte(text)})
}

func (d *Directory) publish(msg domain.PresenceMessage) error {
	raw, err := domain.EncodePresence(msg)
	if err != nil {
		d.logger.Errorw("Failed to encode presence message", "type", msg.Type.String(), "error", err)
		return err
	}

	d.mu.Lock()
	d.seq++
	name := domain.SyncRecordName(d.local.SyncPrefix(), d.session, d.seq)
	d.mu.Unlock()

	if err := d.socket.Publish(context.Background(), name, raw); err != nil {
		d.logger.Warnw("Failed to publish presence message", "name", name, "type", msg.Type.String(), "error", err)
		return err
	}
	d.logger.Debugw("Published presence message", "name", name, "type", msg.Type.String())
	return nil
}

// ProcessMessage handles one presence record fetched from the chatroom.
// Malformed records are logged and dropped.
func (d *Directory) ProcessMessage(raw []byte) {
	if d.Status() == PresenceStopped {
		return
	}

	msg, err := domain.DecodePresence(raw)
	if err != nil {
		d.logger.Warnw("Dropping malformed presence record", "error", err)
		return
	}
	uid := msg.User.UID
	if uid == d.local.UID {
		return
	}

	_, span := tracing.TracePresence(context.Background(), msg.Type.String(), uid, msg.User.Nick)
	defer span.End()

	switch msg.Type {
	case domain.MessageJoin, domain.MessageHello:
		d.alive(msg)
	case domain.MessageLeave:
		if err := d.table.Delete(uid); err != nil {
			d.logger.Debugw("Leave for unknown peer", "peer_id", uid, "error", err)
			return
		}
		d.logger.Infow("Peer left", "peer_id", uid, "nick", msg.User.Nick)
		d.emitLeave(msg.User)
	case domain.MessageChat:
		d.metrics.PresenceEvent("chat")
		if d.events.OnMessage != nil {
			d.events.OnMessage(msg.User, msg.Extra)
		}
	}
}

// alive inserts an unknown peer, emitting OnJoin, or refreshes a known one.
// Hello from an unknown peer is an implicit join; a repeated Join is only
// a refresh.
func (d *Directory) alive(msg domain.PresenceMessage) {
	uid := msg.User.UID
	rp := &domain.RemotePeer{Peer: msg.User, Liveness: softstate.NewState(d.now(), d.cfg.TTL)}

	if !d.table.Add(uid, rp) {
		if err := d.table.Refresh(uid); err != nil {
			d.logger.Debugw("Refresh raced with removal", "peer_id", uid, "error", err)
		}
		return
	}

	if msg.Type == domain.MessageHello {
		d.logger.Infow("Refresh from unknown peer, treating as join", "peer_id", uid)
	} else {
		d.logger.Infow("Peer joined", "peer_id", uid, "nick", msg.User.Nick)
	}
	d.metrics.PresenceEvent("join")
	d.metrics.SetRemotePeers(d.table.Len())
	if d.events.OnJoin != nil {
		d.events.OnJoin(msg.User)
	}
}

func (d *Directory) reaped(rp *domain.RemotePeer) {
	if d.Status() == PresenceStopped {
		return
	}
	d.logger.Infow("Peer expired", "peer_id", rp.UID, "nick", rp.Nick)
	d.emitLeave(rp.Peer)
}

func (d *Directory) emitLeave(peer domain.Peer) {
	d.metrics.PresenceEvent("leave")
	d.metrics.SetRemotePeers(d.table.Len())
	if d.events.OnLeave != nil {
		d.events.OnLeave(peer)
	}
}

// Has reports whether uid is a live remote peer.
func (d *Directory) Has(uid string) bool {
	_, ok := d.table.Get(uid)
	return ok
}

// Peers returns the identities of the live remote peers.
func (d *Directory) Peers() []domain.Peer {
	values := d.table.Values()
	peers := make([]domain.Peer, 0, len(values))
	for _, rp := range values {
		peers = append(peers, rp.Peer)
	}
	return peers
}

// RosterEntry is a remote peer with the time it was last heard from.
type RosterEntry struct {
	domain.Peer
	LastSeen time.Time `json:"last_seen"`
}

func (d *Directory) Roster() []RosterEntry {
	out := make([]RosterEntry, 0, d.table.Len())
	d.table.Range(func(_ string, rp *domain.RemotePeer) bool {
		out = append(out, RosterEntry{Peer: rp.Peer, LastSeen: rp.Liveness.Timestamp})
		return true
	})
	return out
}

// Leave announces departure and tears the directory down: after one grace
// period the local sync footprint is removed, after another the socket
// and scheduler are closed. The returned channel closes when done.
func (d *Directory) Leave() <-chan struct{} {
	d.mu.Lock()
	if d.status == PresenceStopped {
		d.mu.Unlock()
		return d.done
	}
	d.status = PresenceStopped
	d.mu.Unlock()

	if err := d.publish(domain.PresenceMessage{Type: domain.MessageLeave, User: d.local}); err != nil {
		// Remote peers still drop us once our liveness expires.
		d.logger.Infow("Leaving chatroom unannounced", "uid", d.local.UID, "error", err)
	} else {
		d.logger.Infow("Leaving chatroom", "uid", d.local.UID)
	}

	d.table.ScheduleOnce(d.cfg.LeaveGrace, func() {
		if err := d.socket.Remove(d.local.SyncPrefix()); err != nil {
			d.logger.Warnw("Failed to remove sync footprint", "prefix", d.local.SyncPrefix(), "error", err)
		}
		d.table.ScheduleOnce(d.cfg.LeaveGrace, func() {
			if err := d.socket.Close(); err != nil {
				d.logger.Warnw("Failed to close sync socket", "error", err)
			}
			d.table.Shutdown()
			close(d.done)
		})
	})
	return d.done
}

// Done is closed once Leave has finished tearing down.
func (d *Directory) Done() <-chan struct{} {
	return d.done
}
