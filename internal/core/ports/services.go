package ports

import "ccngate/internal/core/domain"

// PeerDirectory answers whether a remote peer is still considered alive.
type PeerDirectory interface {
	Has(uid string) bool
}

// MediaSink forwards fetched payloads to the local browser port that
// serves the given remote peer.
type MediaSink interface {
	Deliver(uid string, payload []byte)
}

// LocalClient is the browser signaling connection.
type LocalClient interface {
	ID() string
	Send(msg *domain.RTCMessage) error
}

// GatewayMetrics is the observability hook used by the core services.
type GatewayMetrics interface {
	InterestExpressed(stream string)
	DataReceived(stream string, bytes int)
	InterestTimedOut(stream string)
	PeerReset(uid string)
	SetRemotePeers(n int)
	PresenceEvent(kind string)
	Published(stream string, bytes int)
}

type NoopMetrics struct{}

func (NoopMetrics) InterestExpressed(string) {}
func (NoopMetrics) DataReceived(string, int) {}
func (NoopMetrics) InterestTimedOut(string) {}
func (NoopMetrics) PeerReset(string) {}
func (NoopMetrics) SetRemotePeers(int) {}
func (NoopMetrics) PresenceEvent(string) {}
func (NoopMetrics) Published(string, int) {}
