package media

import (
	"net"
	"sync"
	"testing"
	"time"

	"ccngate/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type datagram struct {
	kind    domain.DatagramKind
	port    int
	payload []byte
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []datagram
}

func (h *recordingHandler) HandleDatagram(kind domain.DatagramKind, port int, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, datagram{kind: kind, port: port, payload: payload})
}

func (h *recordingHandler) all() []datagram {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]datagram(nil), h.seen...)
}

type staticEndpoints map[string]*net.UDPAddr

func (s staticEndpoints) SinkAddr(uid string) (string, int, bool) {
	addr, ok := s[uid]
	if !ok {
		return "", 0, false
	}
	return addr.IP.String(), addr.Port, true
}

func TestRelay_ClassifiesAndDelivers(t *testing.T) {
	browser, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer browser.Close()
	browserAddr := browser.LocalAddr().(*net.UDPAddr)

	endpoints := staticEndpoints{"remote": browserAddr}
	relay := NewRelay(Config{ListenIP: "127.0.0.1"}, endpoints, zaptest.NewLogger(t).Sugar())
	handler := &recordingHandler{}
	require.NoError(t, relay.Start(handler))
	defer relay.Close()

	relayAddr := relay.Addr()
	require.NotNil(t, relayAddr)

	_, err = browser.WriteToUDP(rtpPacket(t, 1), relayAddr)
	require.NoError(t, err)
	_, err = browser.WriteToUDP([]byte{0xc0}, relayAddr)
	require.NoError(t, err)
	_, err = browser.WriteToUDP([]byte{22, 0xfe, 0xfd}, relayAddr)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(handler.all()) == 2 }, time.Second, 5*time.Millisecond)
	seen := handler.all()
	assert.Equal(t, domain.DatagramRTP, seen[0].kind)
	assert.Equal(t, browserAddr.Port, seen[0].port)
	assert.Equal(t, domain.DatagramSTUN, seen[1].kind)

	relay.Deliver("remote", []byte("from the network"))
	relay.Deliver("unknown", []byte("dropped"))

	require.NoError(t, browser.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, from, err := browser.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "from the network", string(buf[:n]))
	assert.Equal(t, relayAddr.Port, from.Port)
}

func TestRelay_CloseBeforeStart(t *testing.T) {
	relay := NewRelay(Config{ListenIP: "127.0.0.1"}, staticEndpoints{}, zaptest.NewLogger(t).Sugar())
	assert.Nil(t, relay.Addr())
	assert.NoError(t, relay.Close())
	relay.Deliver("remote", []byte("x"))
}
