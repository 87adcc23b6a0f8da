// Package media relays UDP between the local browser and the gateway.
package media

import (
	"fmt"
	"net"
	"sync"

	"ccngate/internal/core/domain"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const maxDatagram = 64 * 1024

// DatagramHandler receives classified datagrams from the browser.
type DatagramHandler interface {
	HandleDatagram(kind domain.DatagramKind, port int, payload []byte)
}

// EndpointResolver maps a remote peer to the browser address that serves it.
type EndpointResolver interface {
	SinkAddr(uid string) (ip string, port int, ok bool)
}

type Config struct {
	ListenIP string
	Port     int
}

// Relay listens on the gateway UDP port. It implements ports.MediaSink.
type Relay struct {
	cfg       Config
	endpoints EndpointResolver
	logger    *zap.SugaredLogger

	mu   sync.RWMutex
	conn *net.UDPConn
	wg   sync.WaitGroup
}

func NewRelay(cfg Config, endpoints EndpointResolver, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		cfg:       cfg,
		endpoints: endpoints,
		logger:    logger,
	}
}

// Start binds the socket and begins handing datagrams to handler.
func (r *Relay) Start(handler DatagramHandler) error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.cfg.ListenIP), Port: r.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.logger.Infow("UDP relay listening", "addr", conn.LocalAddr().String())

	r.wg.Add(1)
	go r.readLoop(conn, handler)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *Relay) Addr() *net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Relay) readLoop(conn *net.UDPConn, handler DatagramHandler) {
	defer r.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			r.logger.Debugw("UDP relay stopped reading", "error", err)
			return
		}
		payload := append([]byte(nil), buf[:n]...)

		kind, err := Classify(payload)
		if err != nil {
			r.logger.Debugw("Dropping datagram", "from", from.String(), "error", err)
			continue
		}
		if kind == domain.DatagramRTP {
			var h rtp.Header
			if _, err := h.Unmarshal(payload); err == nil {
				r.logger.Debugw("RTP from browser",
					"port", from.Port,
					"ssrc", h.SSRC,
					"seq", h.SequenceNumber,
					"pt", h.PayloadType,
				)
			}
		}
		handler.HandleDatagram(kind, from.Port, payload)
	}
}

// Deliver writes a payload fetched from uid to the browser port that
// serves uid.
func (r *Relay) Deliver(uid string, payload []byte) {
	ip, port, ok := r.endpoints.SinkAddr(uid)
	if !ok {
		r.logger.Debugw("No browser port for peer yet", "peer_id", uid)
		return
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return
	}

	dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if _, err := conn.WriteToUDP(payload, dst); err != nil {
		r.logger.Debugw("Failed to write to browser", "peer_id", uid, "addr", dst.String(), "error", err)
	}
}

// Close stops the read loop and waits for it.
func (r *Relay) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	r.wg.Wait()
	return err
}
