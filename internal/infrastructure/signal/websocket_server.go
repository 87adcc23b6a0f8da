package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"ccngate/internal/core/domain"
	"ccngate/internal/core/ports"
	"ccngate/internal/core/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("rate limit exceeded")

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string

	// MessagesPerSecond <= 0 disables per-connection rate limiting.
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

// ConnectionObserver is told about every connection opened and closed.
type ConnectionObserver interface {
	SignalConnected()
	SignalDisconnected()
}

type Option func(*WebSocketServer)

func WithConnectionObserver(o ConnectionObserver) Option {
	return func(s *WebSocketServer) { s.observer = o }
}

// WithAuth requires a valid token on every upgrade request.
func WithAuth(auth services.AuthService) Option {
	return func(s *WebSocketServer) { s.auth = auth }
}

// WebSocketServer carries the browser signaling protocol. Each connection
// becomes a ports.LocalClient and its events go to the SignalHandler.
type WebSocketServer struct {
	handler  ports.SignalHandler
	auth     services.AuthService
	observer ConnectionObserver
	cfg      Config
	upgrader websocket.Upgrader

	clients map[string]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebSocketServer(handler ports.SignalHandler, cfg Config, logger *zap.SugaredLogger, opts ...Option) *WebSocketServer {
	s := &WebSocketServer{
		handler: handler,
		cfg:     cfg,
		clients: make(map[string]*client),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) authenticate(r *http.Request) (*services.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		return nil, services.ErrInvalidToken
	}
	return s.auth.ValidateToken(token)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	nick := ""
	if s.auth != nil {
		claims, err := s.authenticate(r)
		if err != nil {
			s.logger.Infow("Rejected signaling connection", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		nick = claims.Nick
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	c := &client{id: uuid.NewString(), conn: conn, writeTimeout: s.cfg.WriteTimeout}
	s.register(c)
	s.logger.Infow("Client connected", "client_id", c.id, "nick", nick, "remote_addr", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), max(s.cfg.Burst, 1))
	}

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			if limiter != nil && !limiter.Allow() {
				s.sendError(c, errRateLimited)
				continue
			}
			select {
			case messageChan <- raw:
			case <-done:
				return
			}
		}
	}()

loop:
	for {
		select {
		case raw := <-messageChan:
			s.dispatch(c, raw)

		case <-pingTicker.C:
			if err := c.ping(); err != nil {
				s.logger.Infow("error sending ping", "client_id", c.id, "error", err)
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from client", "client_id", c.id, "error", err)
			}
			break loop
		}
	}

	s.unregister(c)
	s.handler.HandleDisconnect(context.Background(), c)
	s.logger.Infow("Client disconnected", "client_id", c.id)
}

func (s *WebSocketServer) dispatch(c *client, raw []byte) {
	msg, err := domain.UnmarshalRTCMessage(raw)
	if err != nil {
		s.logger.Debugw("Dropped malformed signaling message", "client_id", c.id, "error", err)
		s.sendError(c, err)
		return
	}
	if err := s.handler.HandleMessage(context.Background(), c, msg); err != nil {
		s.sendError(c, err)
	}
}

func (s *WebSocketServer) sendError(c *client, err error) {
	msg := domain.NewRTCMessage(domain.EventSignalError, domain.RTCData{Messages: err.Error()})
	if sendErr := c.Send(msg); sendErr != nil {
		s.logger.Debugw("failed to report error to client", "client_id", c.id, "error", sendErr)
	}
}

func (s *WebSocketServer) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	if s.observer != nil {
		s.observer.SignalConnected()
	}
}

func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if s.observer != nil {
		s.observer.SignalDisconnected()
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// client serializes writes; gorilla connections allow one writer at a time.
type client struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *client) ID() string { return c.id }

func (c *client) Send(msg *domain.RTCMessage) error {
	raw, err := msg.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}
