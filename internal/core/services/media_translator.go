package services

import (
	"fmt"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"

	"go.uber.org/zap"
)

// LocalEndpoints remembers which browser UDP port talks to which remote
// peer. A port is learned from the first ICE candidate the browser offers
// for that peer; the first port learned also carries the outgoing media.
type LocalEndpoints struct {
	mu         sync.RWMutex
	ip         string
	sourcePort int
	sinkPorts  map[string]int
	remoteUIDs map[int]string
	ctrlSeqs   map[int]uint64
}

func NewLocalEndpoints() *LocalEndpoints {
	return &LocalEndpoints{
		sinkPorts:  make(map[string]int),
		remoteUIDs: make(map[int]string),
		ctrlSeqs:   make(map[int]uint64),
	}
}

// Learn binds port to uid. It returns false if uid already had a port.
func (l *LocalEndpoints) Learn(uid, ip string, port int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sinkPorts[uid]; ok {
		return false
	}
	l.sinkPorts[uid] = port
	l.remoteUIDs[port] = uid
	l.ctrlSeqs[port] = 0
	if l.sourcePort == 0 {
		l.sourcePort = port
	}
	if l.ip == "" {
		l.ip = ip
	}
	return true
}

func (l *LocalEndpoints) Known(uid string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sinkPorts[uid]
	return ok
}

// SinkAddr returns where payloads fetched from uid should be written.
func (l *LocalEndpoints) SinkAddr(uid string) (string, int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	port, ok := l.sinkPorts[uid]
	return l.ip, port, ok
}

func (l *LocalEndpoints) SourcePort() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sourcePort
}

// nextControl returns the peer served by port and claims its next
// control sequence number.
func (l *LocalEndpoints) nextControl(port int) (string, uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	uid, ok := l.remoteUIDs[port]
	if !ok {
		return "", 0, false
	}
	seq := l.ctrlSeqs[port]
	l.ctrlSeqs[port] = seq + 1
	return uid, seq, true
}

func (l *LocalEndpoints) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ip = ""
	l.sourcePort = 0
	l.sinkPorts = make(map[string]int)
	l.remoteUIDs = make(map[int]string)
	l.ctrlSeqs = make(map[int]uint64)
}

// MediaTranslator publishes datagrams from the local browser into the
// pull network. Only one media stream is published, from the source port;
// control traffic is published once per remote peer.
type MediaTranslator struct {
	local     domain.Peer
	endpoints *LocalEndpoints
	transport ports.Transport
	freshness time.Duration
	metrics   ports.GatewayMetrics
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	localSeq uint64
}

func NewMediaTranslator(
	local domain.Peer,
	endpoints *LocalEndpoints,
	transport ports.Transport,
	freshness time.Duration,
	metrics ports.GatewayMetrics,
	logger *zap.SugaredLogger,
) *MediaTranslator {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &MediaTranslator{
		local:     local,
		endpoints: endpoints,
		transport: transport,
		freshness: freshness,
		metrics:   metrics,
		logger:    logger,
	}
}

// Publish names and publishes one datagram received on the given local
// port. Control datagrams from an unmapped port and media from any port
// but the source port are dropped.
func (m *MediaTranslator) Publish(kind domain.DatagramKind, port int, payload []byte) error {
	var name, stream string

	if kind.IsControl() {
		uid, seq, ok := m.endpoints.nextControl(port)
		if !ok {
			return fmt.Errorf("%w: no peer for local port %d", domain.ErrPeerNotFound, port)
		}
		name = domain.SeqName(m.local.ControlPrefixFor(uid), seq)
		stream = streamControl
	} else {
		if port == 0 || port != m.endpoints.SourcePort() {
			return nil
		}
		m.mu.Lock()
		seq := m.localSeq
		m.localSeq++
		m.mu.Unlock()
		name = domain.SeqName(m.local.MediaPrefix(), seq)
		stream = streamMedia
	}

	if err := m.transport.Publish(name, payload, m.freshness); err != nil {
		return fmt.Errorf("failed to publish %s datagram: %w", kind, err)
	}
	m.metrics.Published(stream, len(payload))
	m.logger.Debugw("Published datagram", "name", name, "kind", kind.String(), "bytes", len(payload))
	return nil
}

func (m *MediaTranslator) LocalSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localSeq
}
