package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/pkg/tracing"

	"go.uber.org/zap"
)

const (
	streamMediaProbe = "media_probe"
	streamMedia      = "media"
	streamControl    = "ctrl"
)

type FetchConfig struct {
	// PipeWindow bounds the number of outstanding media requests per peer.
	PipeWindow int
	// TimeoutThreshold is the number of consecutive stream timeouts that
	// forces a peer back to probing. Zero means PipeWindow.
	TimeoutThreshold int
	TickInterval     time.Duration
}

func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		PipeWindow:   10,
		TickInterval: 10 * time.Millisecond,
	}
}

func (c FetchConfig) threshold() int {
	if c.TimeoutThreshold > 0 {
		return c.TimeoutThreshold
	}
	return c.PipeWindow
}

// FetchEngine pulls the media and control streams of every known remote
// peer. Each peer is probed for its latest sequence, then streamed with a
// bounded window of outstanding requests.
type FetchEngine struct {
	local     domain.Peer
	transport ports.Transport
	directory ports.PeerDirectory
	sink      ports.MediaSink
	metrics   ports.GatewayMetrics
	logger    *zap.SugaredLogger
	cfg       FetchConfig

	probeHandlers  *ports.InterestHandlers
	streamHandlers *ports.InterestHandlers
	ctrlHandlers   *ports.InterestHandlers

	mu      sync.Mutex
	peers   map[string]*domain.RemoteFetchState
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

type fetchRequest struct {
	name     string
	selector ports.Selector
	handlers *ports.InterestHandlers
	stream   string
}

func NewFetchEngine(
	local domain.Peer,
	transport ports.Transport,
	directory ports.PeerDirectory,
	sink ports.MediaSink,
	metrics ports.GatewayMetrics,
	cfg FetchConfig,
	logger *zap.SugaredLogger,
) *FetchEngine {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	e := &FetchEngine{
		local:     local,
		transport: transport,
		directory: directory,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		peers:     make(map[string]*domain.RemoteFetchState),
	}
	e.probeHandlers = &ports.InterestHandlers{OnData: e.onProbeData, OnTimeout: e.onProbeTimeout}
	e.streamHandlers = &ports.InterestHandlers{OnData: e.onStreamData, OnTimeout: e.onStreamTimeout}
	e.ctrlHandlers = &ports.InterestHandlers{OnData: e.onControlData, OnTimeout: e.onControlTimeout}
	return e
}

// SetDirectory binds the directory consulted before re-expressing probes.
func (e *FetchEngine) SetDirectory(directory ports.PeerDirectory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.directory = directory
}

// Start marks the engine running and launches the tick loop.
func (e *FetchEngine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	e.wg.Add(1)
	go e.tickLoop(stop)
	e.logger.Infow("Fetch engine started", "pipe_window", e.cfg.PipeWindow, "tick", e.cfg.TickInterval)
}

// Stop halts the tick loop. In-flight callbacks become no-ops.
func (e *FetchEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Infow("Fetch engine stopped")
}

func (e *FetchEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *FetchEngine) tickLoop(stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// AddPeer starts tracking a remote peer. Adding a known peer is a no-op.
func (e *FetchEngine) AddPeer(peer domain.Peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.peers[peer.UID]; ok {
		return
	}
	e.peers[peer.UID] = domain.NewRemoteFetchState(peer)
}

func (e *FetchEngine) RemovePeer(uid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peers, uid)
}

func (e *FetchEngine) HasPeer(uid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.peers[uid]
	return ok
}

// Snapshot returns a copy of every peer's fetch state ordered by uid.
func (e *FetchEngine) Snapshot() []domain.FetchSnapshot {
	e.mu.Lock()
	out := make([]domain.FetchSnapshot, 0, len(e.peers))
	for _, st := range e.peers {
		out = append(out, st.Snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Peer returns a snapshot of a single peer's fetch state.
func (e *FetchEngine) Peer(uid string) (domain.FetchSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.peers[uid]
	if !ok {
		return domain.FetchSnapshot{}, false
	}
	return st.Snapshot(), true
}

// BufferCandidate stores the rewritten ICE candidate for uid. It reports
// whether the candidate may be delivered right away, which is the case
// once the remote SDP has reached the browser.
func (e *FetchEngine) BufferCandidate(uid string, msg *domain.RTCMessage) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.peers[uid]
	if !ok {
		return false, domain.ErrPeerNotFound
	}
	st.ICECandidate = msg
	return st.SDPAnswerSent, nil
}

// MarkSDPSent records SDP delivery for uid and returns the candidate
// buffered while waiting for it, if any.
func (e *FetchEngine) MarkSDPSent(uid string) (*domain.RTCMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.peers[uid]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	st.SDPAnswerSent = true
	return st.ICECandidate, nil
}

// Tick advances every peer's state machine once. Stopped peers are probed,
// streaming peers get their request window topped up. Requests are issued
// after the lock is released.
func (e *FetchEngine) Tick() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}

	var reqs []fetchRequest
	window := uint64(e.cfg.PipeWindow)
	for _, st := range e.peers {
		if st.Stalled(window) {
			st.Reset()
			e.logger.Infow("Request window stalled, probing again", "peer_id", st.Peer.UID)
			e.metrics.PeerReset(st.Peer.UID)
		}
		switch st.State {
		case domain.StreamingStopped:
			st.State = domain.StreamingProbing
			reqs = append(reqs, fetchRequest{
				name:     st.Peer.MediaPrefix(),
				selector: ports.SelectRightmost,
				handlers: e.probeHandlers,
				stream:   streamMediaProbe,
			})
			if !st.ControlChainActive {
				st.ControlChainActive = true
				reqs = append(reqs, fetchRequest{
					name:     st.Peer.ControlPrefixFor(e.local.UID),
					selector: ports.SelectRightmost,
					handlers: e.ctrlHandlers,
					stream:   streamControl,
				})
			}
		case domain.StreamingActive:
			for st.InFlight() < window {
				st.RequestedSeq++
				st.Outstanding++
				reqs = append(reqs, fetchRequest{
					name:     domain.SeqName(st.Peer.MediaPrefix(), st.RequestedSeq),
					selector: ports.SelectExact,
					handlers: e.streamHandlers,
					stream:   streamMedia,
				})
			}
		}
	}
	e.mu.Unlock()

	for _, r := range reqs {
		e.express(r)
	}
}

func (e *FetchEngine) express(r fetchRequest) {
	ctx, span := tracing.TraceInterest(context.Background(), r.stream, r.name)
	defer span.End()

	if err := e.transport.Express(r.name, r.selector, r.handlers); err != nil {
		tracing.RecordError(ctx, err)
		e.logger.Warnw("Failed to express interest", "name", r.name, "stream", r.stream, "error", err)
		e.expressFailed(r)
		return
	}
	e.metrics.InterestExpressed(r.stream)
	e.logger.Debugw("Expressed interest", "name", r.name, "stream", r.stream)
}

// expressFailed rolls back state that assumed the request went out.
func (e *FetchEngine) expressFailed(r fetchRequest) {
	switch r.stream {
	case streamMedia:
		e.onStreamTimeout(r.name)
	case streamMediaProbe:
		uid, err := domain.ParseMediaProbeName(r.name)
		if err != nil {
			return
		}
		e.mu.Lock()
		if st, ok := e.peers[uid]; ok && st.State == domain.StreamingProbing {
			st.State = domain.StreamingStopped
		}
		e.mu.Unlock()
	case streamControl:
		cn, err := domain.ParseControlName(r.name)
		if err != nil {
			return
		}
		e.endControlChain(cn.ProducerUID)
	}
}

func (e *FetchEngine) deliver(uid string, content []byte) {
	if e.sink != nil {
		e.sink.Deliver(uid, content)
	}
}

func (e *FetchEngine) peerAlive(uid string) bool {
	e.mu.Lock()
	directory := e.directory
	e.mu.Unlock()
	return directory != nil && directory.Has(uid)
}

func (e *FetchEngine) onProbeData(name string, content []byte) {
	uid, seq, err := domain.ParseMediaName(name)
	if err != nil {
		e.logger.Warnw("Dropping probe reply with unexpected name", "name", name, "error", err)
		return
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	var ctrl *fetchRequest
	st, ok := e.peers[uid]
	if ok && st.State != domain.StreamingActive {
		st.RequestedSeq = seq
		st.FetchedSeq = seq
		st.ConsecutiveTimeouts = 0
		st.State = domain.StreamingActive
		if !st.ControlChainActive {
			st.ControlChainActive = true
			ctrl = &fetchRequest{
				name:     st.Peer.ControlPrefixFor(e.local.UID),
				selector: ports.SelectRightmost,
				handlers: e.ctrlHandlers,
				stream:   streamControl,
			}
		}
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	e.metrics.DataReceived(streamMediaProbe, len(content))
	e.logger.Debugw("Probe answered", "peer_id", uid, "seq", seq)
	e.deliver(uid, content)
	if ctrl != nil {
		e.express(*ctrl)
	}
}

// onProbeTimeout keeps probing for as long as the peer is alive.
func (e *FetchEngine) onProbeTimeout(name string) ports.TimeoutAction {
	uid, err := domain.ParseMediaProbeName(name)
	if err != nil {
		return ports.GiveUp
	}
	e.metrics.InterestTimedOut(streamMediaProbe)

	e.mu.Lock()
	_, known := e.peers[uid]
	running := e.running
	e.mu.Unlock()

	if running && known && e.peerAlive(uid) {
		return ports.Reexpress
	}
	e.logger.Debugw("Giving up probe", "peer_id", uid)
	return ports.GiveUp
}

func (e *FetchEngine) onStreamData(name string, content []byte) {
	uid, seq, err := domain.ParseMediaName(name)
	if err != nil {
		e.logger.Warnw("Dropping media reply with unexpected name", "name", name, "error", err)
		return
	}

	e.mu.Lock()
	st, ok := e.peers[uid]
	if ok && st.Outstanding > 0 {
		st.Outstanding--
	}
	if !e.running {
		e.mu.Unlock()
		return
	}
	if ok {
		// Only a reply that moves the window forward breaks a run of
		// timeouts. Stale replies are delivered but change nothing.
		if st.State == domain.StreamingActive && st.FetchedSeq < seq && seq <= st.RequestedSeq {
			st.FetchedSeq = seq
			st.ConsecutiveTimeouts = 0
		}
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	e.metrics.DataReceived(streamMedia, len(content))
	e.deliver(uid, content)
}

// onStreamTimeout counts consecutive losses inside the current window and
// resets the peer to probing once the threshold is reached. A full window
// left with nothing outstanding resets as well.
func (e *FetchEngine) onStreamTimeout(name string) ports.TimeoutAction {
	uid, seq, err := domain.ParseMediaName(name)
	if err != nil {
		return ports.GiveUp
	}
	e.metrics.InterestTimedOut(streamMedia)

	reset := false
	e.mu.Lock()
	st, ok := e.peers[uid]
	if ok && st.Outstanding > 0 {
		st.Outstanding--
	}
	if !e.running {
		e.mu.Unlock()
		return ports.GiveUp
	}
	if ok && st.State == domain.StreamingActive {
		if st.FetchedSeq < seq && seq <= st.RequestedSeq {
			st.ConsecutiveTimeouts++
		}
		if st.ConsecutiveTimeouts >= e.cfg.threshold() || st.Stalled(uint64(e.cfg.PipeWindow)) {
			st.Reset()
			reset = true
		}
	}
	e.mu.Unlock()

	if reset {
		e.metrics.PeerReset(uid)
		e.logger.Infow("Too many consecutive timeouts, probing again", "peer_id", uid, "threshold", e.cfg.threshold())
	}
	return ports.GiveUp
}

// onControlData forwards one control datagram and asks for the next one.
// The control stream is a strict request-reply chain.
func (e *FetchEngine) onControlData(name string, content []byte) {
	cn, err := domain.ParseControlName(name)
	if err != nil || !cn.HasSeq {
		e.logger.Warnw("Dropping control reply with unexpected name", "name", name, "error", err)
		return
	}

	e.mu.Lock()
	running := e.running
	_, ok := e.peers[cn.ProducerUID]
	e.mu.Unlock()
	if !running || !ok {
		return
	}

	e.metrics.DataReceived(streamControl, len(content))
	e.deliver(cn.ProducerUID, content)

	next, err := domain.NextSeqName(name)
	if err != nil {
		e.endControlChain(cn.ProducerUID)
		return
	}
	e.express(fetchRequest{name: next, selector: ports.SelectExact, handlers: e.ctrlHandlers, stream: streamControl})
}

func (e *FetchEngine) onControlTimeout(name string) ports.TimeoutAction {
	cn, err := domain.ParseControlName(name)
	if err != nil {
		return ports.GiveUp
	}
	e.metrics.InterestTimedOut(streamControl)

	e.mu.Lock()
	_, known := e.peers[cn.ProducerUID]
	running := e.running
	e.mu.Unlock()

	if running && known && e.peerAlive(cn.ProducerUID) {
		return ports.Reexpress
	}
	e.endControlChain(cn.ProducerUID)
	return ports.GiveUp
}

func (e *FetchEngine) endControlChain(uid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.peers[uid]; ok {
		st.ControlChainActive = false
	}
}
