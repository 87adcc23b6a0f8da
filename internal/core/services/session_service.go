package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/pkg/tracing"

	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type SessionStatus int

const (
	SessionIdle SessionStatus = iota
	SessionRunning
	SessionStopped
)

func (s SessionStatus) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type SessionConfig struct {
	Nick     string
	Prefix   string
	Chatroom string
	// ListenIP and ListenPort are advertised to the browser as the
	// candidate of every remote peer.
	ListenIP       string
	ListenPort     int
	MediaFreshness time.Duration
	Presence       PresenceConfig
	Fetch          FetchConfig
}

// SyncSocketFactory opens the presence sync socket for the local peer.
type SyncSocketFactory func(local domain.Peer) (ports.SyncSocket, error)

// SessionInfo describes the local session for inspection.
type SessionInfo struct {
	Status      string `json:"status"`
	UID         string `json:"uid,omitempty"`
	Nick        string `json:"nick"`
	Prefix      string `json:"prefix"`
	Chatroom    string `json:"chatroom"`
	Presence    string `json:"presence,omitempty"`
	Session     int64  `json:"session,omitempty"`
	LocalSeq    uint64 `json:"local_seq"`
	RemotePeers int    `json:"remote_peers"`
}

// Session bridges the single local browser client to the chatroom. It owns
// the presence directory, the fetch engine and the media translator for as
// long as the client is connected.
type Session struct {
	cfg       SessionConfig
	transport ports.Transport
	newSocket SyncSocketFactory
	endpoints *LocalEndpoints
	sink      ports.MediaSink
	metrics   ports.GatewayMetrics
	logger    *zap.SugaredLogger

	sdpHandlers *ports.InterestHandlers

	mu            sync.Mutex
	status        SessionStatus
	client        ports.LocalClient
	local         domain.Peer
	directory     *Directory
	engine        *FetchEngine
	translator    *MediaTranslator
	sourceSDP     string
	sdpRegistered bool
}

func NewSession(
	cfg SessionConfig,
	transport ports.Transport,
	newSocket SyncSocketFactory,
	endpoints *LocalEndpoints,
	sink ports.MediaSink,
	metrics ports.GatewayMetrics,
	logger *zap.SugaredLogger,
) *Session {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	s := &Session{
		cfg:       cfg,
		transport: transport,
		newSocket: newSocket,
		endpoints: endpoints,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
	}
	s.sdpHandlers = &ports.InterestHandlers{OnData: s.onSDPData, OnTimeout: s.onSDPTimeout}
	return s
}

// HandleMessage dispatches one event from the browser.
func (s *Session) HandleMessage(ctx context.Context, client ports.LocalClient, msg *domain.RTCMessage) error {
	ctx, span := tracing.TraceSignalMessage(ctx, msg.EventName, client.ID())
	defer span.End()

	var err error
	switch msg.EventName {
	case domain.EventJoinRoom:
		err = s.handleJoinRoom(client)
	case domain.EventMediaReady:
		err = s.handleMediaReady(ctx, client)
	case domain.EventSendOffer:
		err = s.handleOffer(client, msg.Data)
	case domain.EventSendICE:
		err = s.handleICECandidate(client, msg.Data)
	case domain.EventChatMessage:
		err = s.handleChat(client, msg.Data)
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownEvent, msg.EventName)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("Failed to handle signaling event", "event", msg.EventName, "client_id", client.ID(), "error", err)
	}
	return err
}

func (s *Session) handleJoinRoom(client ports.LocalClient) error {
	s.logger.Debugw("Join from client", "client_id", client.ID())
	connections := []string{}
	return client.Send(domain.NewRTCMessage(domain.EventGetPeers, domain.RTCData{Connections: &connections}))
}

// handleMediaReady registers the client and announces it to the chatroom.
// Only one local client is served at a time.
func (s *Session) handleMediaReady(ctx context.Context, client ports.LocalClient) error {
	_, span := tracing.TraceSession(ctx, "start", client.ID())
	defer span.End()

	s.mu.Lock()
	if s.client != nil {
		current := s.client.ID()
		s.mu.Unlock()
		s.logger.Infow("Media ready from second client ignored", "client_id", client.ID(), "current_client", current)
		return domain.ErrSessionActive
	}

	local := domain.NewPeer(s.cfg.Nick, s.cfg.Prefix, client.ID())
	socket, err := s.newSocket(local)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to open sync socket: %w", err)
	}

	engine := NewFetchEngine(local, s.transport, nil, s.sink, s.metrics, s.cfg.Fetch, s.logger)
	directory := NewDirectory(local, socket, PresenceEvents{
		OnJoin:    s.onPeerJoin,
		OnLeave:   s.onPeerLeave,
		OnMessage: s.onPeerMessage,
	}, s.cfg.Presence, s.logger, WithDirectoryMetrics(s.metrics))
	engine.SetDirectory(directory)

	s.client = client
	s.local = local
	s.directory = directory
	s.engine = engine
	s.translator = NewMediaTranslator(local, s.endpoints, s.transport, s.cfg.MediaFreshness, s.metrics, s.logger)
	s.status = SessionRunning
	s.mu.Unlock()

	engine.Start()
	if err := directory.Start(); err != nil {
		s.teardown(ctx)
		return err
	}

	s.logger.Infow("Local session running",
		"uid", local.UID,
		"nick", local.Nick,
		"sync_prefix", local.SyncPrefix(),
		"chatroom", s.cfg.Chatroom,
	)
	return nil
}

// handleOffer publishes the browser's offer under the local sdp name and
// keeps serving it on demand. The first offer is reused for every remote
// peer.
func (s *Session) handleOffer(client ports.LocalClient, data domain.RTCData) error {
	s.mu.Lock()
	if s.client == nil || s.client.ID() != client.ID() {
		s.mu.Unlock()
		return domain.ErrSessionNotRunning
	}
	if s.sourceSDP == "" {
		if err := validateSDP(webrtc.SDPTypeOffer, data.SDP); err != nil {
			s.mu.Unlock()
			return err
		}
		s.sourceSDP = data.SDP
	}
	local := s.local
	register := !s.sdpRegistered
	s.sdpRegistered = true
	raw, err := domain.NewRTCMessage(domain.EventReceiveOffer, domain.RTCData{SDP: s.sourceSDP, SocketID: local.UID}).Marshal()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	name := local.SDPPrefix()
	if err := s.transport.Publish(name, raw, s.cfg.MediaFreshness); err != nil {
		return fmt.Errorf("failed to publish sdp: %w", err)
	}
	if register {
		err := s.transport.RegisterPrefix(name, func(string) {
			if err := s.transport.Publish(name, raw, s.cfg.MediaFreshness); err != nil {
				s.logger.Warnw("Failed to republish sdp", "name", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to register sdp prefix: %w", err)
		}
	}
	s.logger.Infow("Published local sdp", "name", name)
	return nil
}

// handleICECandidate learns which browser port serves the remote peer and
// answers with a candidate pointing at the gateway's UDP port. The answer
// is held back until the remote SDP has been delivered.
func (s *Session) handleICECandidate(client ports.LocalClient, data domain.RTCData) error {
	engine, ok := s.running(client)
	if !ok {
		return domain.ErrSessionNotRunning
	}
	uid := data.SocketID

	cand, err := parseCandidate(data.Candidate)
	if err != nil {
		return err
	}
	if !engine.HasPeer(uid) {
		return fmt.Errorf("candidate for %s: %w", uid, domain.ErrPeerNotFound)
	}
	if !s.endpoints.Learn(uid, cand.Address(), cand.Port()) {
		return nil
	}

	host, err := ice.NewCandidateHost(&ice.CandidateHostConfig{
		Network:   "udp",
		Address:   s.cfg.ListenIP,
		Port:      s.cfg.ListenPort,
		Component: ice.ComponentRTP,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCandidate, err)
	}
	init := webrtc.ICECandidateInit{Candidate: "candidate:" + host.Marshal(), SDPMLineIndex: data.Label}
	msg := domain.NewRTCMessage(domain.EventReceiveICE, domain.RTCData{
		Candidate: init.Candidate,
		Label:     init.SDPMLineIndex,
		SocketID:  uid,
	})

	deliverNow, err := engine.BufferCandidate(uid, msg)
	if err != nil {
		return fmt.Errorf("candidate for %s: %w", uid, err)
	}
	s.logger.Debugw("Learned local port for peer", "peer_id", uid, "port", cand.Port(), "deliver_now", deliverNow)
	if deliverNow {
		return client.Send(msg)
	}
	return nil
}

func (s *Session) handleChat(client ports.LocalClient, data domain.RTCData) error {
	s.mu.Lock()
	directory := s.directory
	active := s.client != nil && s.client.ID() == client.ID()
	s.mu.Unlock()
	if !active || directory == nil {
		return domain.ErrSessionNotRunning
	}
	return directory.Chat(data.Messages)
}

// HandleDisconnect tears the session down if client is the active one.
func (s *Session) HandleDisconnect(ctx context.Context, client ports.LocalClient) {
	s.mu.Lock()
	active := s.client != nil && s.client.ID() == client.ID()
	s.mu.Unlock()
	if !active {
		return
	}
	s.logger.Infow("Unregistering local client", "client_id", client.ID())
	s.teardown(ctx)
}

// Close tears down any active session.
func (s *Session) Close(ctx context.Context) {
	s.teardown(ctx)
}

func (s *Session) teardown(ctx context.Context) {
	_, span := tracing.TraceSession(ctx, "leave", s.LocalUID())
	defer span.End()

	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return
	}
	directory, engine, local := s.directory, s.engine, s.local
	s.client = nil
	s.directory = nil
	s.engine = nil
	s.translator = nil
	s.sourceSDP = ""
	s.sdpRegistered = false
	s.status = SessionStopped
	s.mu.Unlock()

	engine.Stop()
	s.transport.UnregisterPrefix(local.SDPPrefix())
	s.endpoints.Reset()

	done := directory.Leave()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("Leave did not finish before deadline", "uid", local.UID, "error", ctx.Err())
	}
}

func (s *Session) running(client ports.LocalClient) (*FetchEngine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.client.ID() != client.ID() || s.engine == nil {
		return nil, false
	}
	return s.engine, true
}

func (s *Session) current() (ports.LocalClient, *FetchEngine, *Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.engine, s.directory
}

// onPeerJoin starts fetching a new remote peer and asks for its SDP.
func (s *Session) onPeerJoin(peer domain.Peer) {
	client, engine, _ := s.current()
	if client == nil {
		return
	}
	engine.AddPeer(peer)

	msg := domain.NewRTCMessage(domain.EventNewPeer, domain.RTCData{SocketID: peer.UID, Username: peer.Nick})
	if err := client.Send(msg); err != nil {
		s.logger.Warnw("Failed to notify client of new peer", "peer_id", peer.UID, "error", err)
	}
	if err := s.transport.Express(peer.SDPPrefix(), ports.SelectExact, s.sdpHandlers); err != nil {
		s.logger.Warnw("Failed to request remote sdp", "peer_id", peer.UID, "error", err)
	}
}

func (s *Session) onPeerLeave(peer domain.Peer) {
	client, engine, _ := s.current()
	if client == nil {
		return
	}
	engine.RemovePeer(peer.UID)

	msg := domain.NewRTCMessage(domain.EventRemovePeer, domain.RTCData{SocketID: peer.UID})
	if err := client.Send(msg); err != nil {
		s.logger.Warnw("Failed to notify client of peer leave", "peer_id", peer.UID, "error", err)
	}
}

func (s *Session) onPeerMessage(peer domain.Peer, payload []byte) {
	client, _, _ := s.current()
	if client == nil {
		return
	}
	msg := domain.NewRTCMessage(domain.EventReceiveChat, domain.RTCData{
		SocketID: peer.UID,
		Messages: string(payload),
		Username: peer.Nick,
	})
	if err := client.Send(msg); err != nil {
		s.logger.Warnw("Failed to forward chat message", "peer_id", peer.UID, "error", err)
	}
}

// onSDPData hands a remote offer to the browser as its answer, then
// releases any candidate that was waiting for it.
func (s *Session) onSDPData(name string, content []byte) {
	client, engine, _ := s.current()
	if client == nil {
		return
	}

	offer, err := domain.UnmarshalRTCMessage(content)
	if err != nil {
		s.logger.Warnw("Dropping malformed sdp record", "name", name, "error", err)
		return
	}
	if err := validateSDP(webrtc.SDPTypeAnswer, offer.Data.SDP); err != nil {
		s.logger.Warnw("Dropping invalid remote sdp", "name", name, "error", err)
		return
	}
	uid := offer.Data.SocketID

	if err := client.Send(domain.NewRTCMessage(domain.EventReceiveAnswer, offer.Data)); err != nil {
		s.logger.Warnw("Failed to deliver remote sdp", "peer_id", uid, "error", err)
		return
	}
	pending, err := engine.MarkSDPSent(uid)
	if err != nil {
		s.logger.Debugw("SDP for untracked peer", "peer_id", uid, "error", err)
		return
	}
	if pending != nil {
		if err := client.Send(pending); err != nil {
			s.logger.Warnw("Failed to deliver buffered candidate", "peer_id", uid, "error", err)
		}
	}
}

func (s *Session) onSDPTimeout(name string) ports.TimeoutAction {
	_, _, directory := s.current()
	if directory == nil {
		return ports.GiveUp
	}
	for _, p := range directory.Peers() {
		if p.SDPPrefix() == name {
			return ports.Reexpress
		}
	}
	return ports.GiveUp
}

// HandleDatagram publishes a datagram the browser sent to the gateway port.
func (s *Session) HandleDatagram(kind domain.DatagramKind, port int, payload []byte) {
	s.mu.Lock()
	translator := s.translator
	s.mu.Unlock()
	if translator == nil {
		return
	}
	if err := translator.Publish(kind, port, payload); err != nil {
		s.logger.Debugw("Dropped local datagram", "port", port, "kind", kind.String(), "error", err)
	}
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) LocalUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.UID
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		Status:   s.status.String(),
		UID:      s.local.UID,
		Nick:     s.cfg.Nick,
		Prefix:   s.cfg.Prefix,
		Chatroom: s.cfg.Chatroom,
	}
	directory, translator := s.directory, s.translator
	s.mu.Unlock()

	if directory != nil {
		info.Presence = directory.Status().String()
		info.Session = directory.Session()
		info.RemotePeers = len(directory.Peers())
	}
	if translator != nil {
		info.LocalSeq = translator.LocalSeq()
	}
	return info
}

// RosterView pairs a live remote peer with its fetch progress.
type RosterView struct {
	RosterEntry
	Fetch *domain.FetchSnapshot `json:"fetch,omitempty"`
}

func (s *Session) Roster() []RosterView {
	_, engine, directory := s.current()
	out := []RosterView{}
	if directory == nil {
		return out
	}
	for _, entry := range directory.Roster() {
		view := RosterView{RosterEntry: entry}
		if snap, ok := engine.Peer(entry.UID); ok {
			view.Fetch = &snap
		}
		out = append(out, view)
	}
	return out
}

// parseCandidate accepts the candidate forms browsers emit, with or
// without the "a=" and "candidate:" prefixes.
func parseCandidate(raw string) (ice.Candidate, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "a=")
	raw = strings.TrimPrefix(raw, "candidate:")
	cand, err := ice.UnmarshalCandidate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCandidate, err)
	}
	return cand, nil
}

func validateSDP(typ webrtc.SDPType, raw string) error {
	desc := webrtc.SessionDescription{Type: typ, SDP: raw}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: invalid sdp: %v", domain.ErrDecode, err)
	}
	return nil
}
