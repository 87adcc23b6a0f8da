package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.GatewayMetrics.
type PrometheusCollector struct {
	interestsExpressed *prometheus.CounterVec
	interestsTimedOut  *prometheus.CounterVec
	dataReceived       *prometheus.CounterVec
	dataReceivedBytes  *prometheus.CounterVec
	published          *prometheus.CounterVec
	publishedBytes     *prometheus.CounterVec
	presenceEvents     *prometheus.CounterVec
	peerResets         prometheus.Counter

	remotePeers       prometheus.Gauge
	signalConnections prometheus.Gauge
}

// NewPrometheusCollector registers the gateway metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		interestsExpressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_interests_expressed_total",
			Help: "Pull requests expressed, by stream",
		}, []string{"stream"}),

		interestsTimedOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_interests_timed_out_total",
			Help: "Pull requests that lapsed without a reply, by stream",
		}, []string{"stream"}),

		dataReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_data_received_total",
			Help: "Replies received, by stream",
		}, []string{"stream"}),

		dataReceivedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_data_received_bytes_total",
			Help: "Reply payload bytes received, by stream",
		}, []string{"stream"}),

		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_published_total",
			Help: "Named data published from the local browser, by stream",
		}, []string{"stream"}),

		publishedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_published_bytes_total",
			Help: "Payload bytes published from the local browser, by stream",
		}, []string{"stream"}),

		presenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccngate_presence_events_total",
			Help: "Presence events observed in the chatroom, by kind",
		}, []string{"kind"}),

		peerResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccngate_peer_resets_total",
			Help: "Remote media streams reset after too many timeouts",
		}),

		remotePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ccngate_remote_peers",
			Help: "Remote peers currently alive in the chatroom",
		}),

		signalConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ccngate_signal_connections",
			Help: "Open browser signaling connections",
		}),
	}
}

func (p *PrometheusCollector) InterestExpressed(stream string) {
	p.interestsExpressed.WithLabelValues(stream).Inc()
}

func (p *PrometheusCollector) DataReceived(stream string, bytes int) {
	p.dataReceived.WithLabelValues(stream).Inc()
	p.dataReceivedBytes.WithLabelValues(stream).Add(float64(bytes))
}

func (p *PrometheusCollector) InterestTimedOut(stream string) {
	p.interestsTimedOut.WithLabelValues(stream).Inc()
}

// PeerReset is not labelled by uid to keep cardinality bounded.
func (p *PrometheusCollector) PeerReset(string) {
	p.peerResets.Inc()
}

func (p *PrometheusCollector) SetRemotePeers(n int) {
	p.remotePeers.Set(float64(n))
}

func (p *PrometheusCollector) PresenceEvent(kind string) {
	p.presenceEvents.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) Published(stream string, bytes int) {
	p.published.WithLabelValues(stream).Inc()
	p.publishedBytes.WithLabelValues(stream).Add(float64(bytes))
}

func (p *PrometheusCollector) SignalConnected() {
	p.signalConnections.Inc()
}

func (p *PrometheusCollector) SignalDisconnected() {
	p.signalConnections.Dec()
}
