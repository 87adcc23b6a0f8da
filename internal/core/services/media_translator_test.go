package services

import (
	"testing"
	"time"

	"ccngate/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLocalEndpoints_Learn(t *testing.T) {
	e := NewLocalEndpoints()

	assert.True(t, e.Learn("u1", "192.168.1.5", 4000))
	assert.True(t, e.Learn("u2", "10.0.0.1", 4002))
	assert.False(t, e.Learn("u1", "192.168.1.5", 4004))

	ip, port, ok := e.SinkAddr("u2")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.5", ip, "first candidate fixes the browser address")
	assert.Equal(t, 4002, port)
	assert.Equal(t, 4000, e.SourcePort())

	e.Reset()
	assert.False(t, e.Known("u1"))
	assert.Zero(t, e.SourcePort())
}

func TestMediaTranslator_Publish(t *testing.T) {
	transport := newFakeTransport()
	endpoints := NewLocalEndpoints()
	endpoints.Learn("u1", "127.0.0.1", 4000)
	endpoints.Learn("u2", "127.0.0.1", 4002)
	m := NewMediaTranslator(localPeer, endpoints, transport, 5*time.Second, nil, zaptest.NewLogger(t).Sugar())

	require.NoError(t, m.Publish(domain.DatagramRTP, 4000, []byte("rtp-0")))
	require.NoError(t, m.Publish(domain.DatagramRTP, 4000, []byte("rtp-1")))
	require.NoError(t, m.Publish(domain.DatagramRTP, 4002, []byte("ignored")))
	assert.Equal(t, uint64(2), m.LocalSeq())

	require.NoError(t, m.Publish(domain.DatagramSTUN, 4002, []byte("stun-0")))
	require.NoError(t, m.Publish(domain.DatagramRTCP, 4002, []byte("rtcp-1")))
	require.NoError(t, m.Publish(domain.DatagramRTCP, 4000, []byte("rtcp-u1")))

	assert.Equal(t, []string{
		"/ndn/chat/alice/local/media/0",
		"/ndn/chat/alice/local/media/1",
		"/ndn/chat/alice/local/ctrl/u2/0",
		"/ndn/chat/alice/local/ctrl/u2/1",
		"/ndn/chat/alice/local/ctrl/u1/0",
	}, transport.order)

	content, ok := transport.content("/ndn/chat/alice/local/ctrl/u2/1")
	require.True(t, ok)
	assert.Equal(t, []byte("rtcp-1"), content)
}

func TestMediaTranslator_UnmappedPort(t *testing.T) {
	transport := newFakeTransport()
	m := NewMediaTranslator(localPeer, NewLocalEndpoints(), transport, time.Second, nil, zaptest.NewLogger(t).Sugar())

	err := m.Publish(domain.DatagramRTCP, 9999, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	assert.NoError(t, m.Publish(domain.DatagramRTP, 9999, []byte("x")))
	assert.Empty(t, transport.order)
}
