package signal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/internal/core/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type echoHandler struct {
	mu           sync.Mutex
	events       []string
	disconnected []string
}

func (h *echoHandler) HandleMessage(_ context.Context, client ports.LocalClient, msg *domain.RTCMessage) error {
	h.mu.Lock()
	h.events = append(h.events, msg.EventName)
	h.mu.Unlock()
	if msg.EventName == "boom" {
		return errors.New("boom failed")
	}
	return client.Send(domain.NewRTCMessage("echo", domain.RTCData{Messages: msg.Data.Messages}))
}

func (h *echoHandler) HandleDisconnect(_ context.Context, client ports.LocalClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, client.ID())
}

func (h *echoHandler) disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnected)
}

type countingObserver struct {
	mu   sync.Mutex
	open int
}

func (o *countingObserver) SignalConnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open++
}

func (o *countingObserver) SignalDisconnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open--
}

func (o *countingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

func testConfig() Config {
	return Config{
		PingInterval: time.Second,
		PongTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
	}
}

func startServer(t *testing.T, s *WebSocketServer) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *domain.RTCMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := domain.UnmarshalRTCMessage(raw)
	require.NoError(t, err)
	return msg
}

func TestWebSocketServer_DispatchAndErrors(t *testing.T) {
	handler := &echoHandler{}
	observer := &countingObserver{}
	s := NewWebSocketServer(handler, testConfig(), zaptest.NewLogger(t).Sugar(), WithConnectionObserver(observer))
	conn := dial(t, startServer(t, s), nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"eventName":"chat_msg","data":{"messages":"hi"}}`)))
	reply := readMessage(t, conn)
	assert.Equal(t, "echo", reply.EventName)
	assert.Equal(t, "hi", reply.Data.Messages)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"eventName":"boom"}`)))
	reply = readMessage(t, conn)
	assert.Equal(t, domain.EventSignalError, reply.EventName)
	assert.Equal(t, "boom failed", reply.Data.Messages)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	reply = readMessage(t, conn)
	assert.Equal(t, domain.EventSignalError, reply.EventName)

	assert.Equal(t, 1, s.ConnectionCount())
	assert.Equal(t, 1, observer.count())

	conn.Close()
	assert.Eventually(t, func() bool { return handler.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return s.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, observer.count())
}

func TestWebSocketServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	s := NewWebSocketServer(&echoHandler{}, cfg, zaptest.NewLogger(t).Sugar())
	conn := dial(t, startServer(t, s), nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"eventName":"chat_msg","data":{"messages":"1"}}`)))
	assert.Equal(t, "echo", readMessage(t, conn).EventName)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"eventName":"chat_msg","data":{"messages":"2"}}`)))
	reply := readMessage(t, conn)
	assert.Equal(t, domain.EventSignalError, reply.EventName)
	assert.Equal(t, errRateLimited.Error(), reply.Data.Messages)
}

func TestWebSocketServer_RequiresToken(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	s := NewWebSocketServer(&echoHandler{}, testConfig(), zaptest.NewLogger(t).Sugar(), WithAuth(auth))
	url := startServer(t, s)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := auth.GenerateToken("alice")
	require.NoError(t, err)
	dial(t, url+"?token="+token, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	dial(t, url, header)
}

func TestWebSocketServer_CheckOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example"}
	s := NewWebSocketServer(&echoHandler{}, cfg, zaptest.NewLogger(t).Sugar())
	url := startServer(t, s)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example")
	dial(t, url, header)
}
