// Package signaling implements the rendezvous coordinator: one persistent
// WebSocket per client, a shared room registry, and the offer/answer/candidate
// relay rules that let one broadcaster and many viewers establish direct peer
// connections.
//
// The coordinator never interprets SDP or candidate payloads; it only routes
// them. Delivery is best-effort: relaying to a connection that no longer
// exists (or whose outbound queue is full) drops the message silently.
package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/livecast/signaling/internal/metrics"
	"github.com/livecast/signaling/internal/ratelimit"
	"github.com/livecast/signaling/internal/registry"
)

// Config wires together the runtime dependencies for the coordinator.
type Config struct {
	// Registry is the shared room table. Required.
	Registry *registry.Registry

	// Metrics receives event counters. Optional.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// CheckOrigin overrides the upgrade-time origin check. When nil all
	// origins are accepted; deployments are expected to enforce origin policy
	// in the outer httpserver middleware.
	CheckOrigin func(*http.Request) bool

	// Inbound hardening.
	MaxMessageBytes   int64
	MessagesPerSecond int

	// IdleTimeout bounds how long a connection may stay silent; PingInterval
	// must be shorter so a healthy client's pongs keep it alive.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// SendQueueSize bounds per-connection outbound buffering.
	SendQueueSize int
}

// Server is the signaling coordinator. It owns the connection table and is
// the only component aware of which connection is host or viewer of what.
type Server struct {
	reg     *registry.Registry
	metrics *metrics.Metrics
	log     *slog.Logger

	upgrader websocket.Upgrader

	maxMessageBytes   int64
	messagesPerSecond int
	idleTimeout       time.Duration
	pingInterval      time.Duration
	sendQueueSize     int

	mu     sync.Mutex
	conns  map[registry.ConnID]*conn
	closed bool
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		reg:     cfg.Registry,
		metrics: cfg.Metrics,
		log:     logger,

		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},

		maxMessageBytes:   cfg.MaxMessageBytes,
		messagesPerSecond: cfg.MessagesPerSecond,
		idleTimeout:       cfg.IdleTimeout,
		pingInterval:      cfg.PingInterval,
		sendQueueSize:     cfg.SendQueueSize,

		conns: make(map[registry.ConnID]*conn),
	}

	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = 64 * 1024
	}
	if s.messagesPerSecond <= 0 {
		s.messagesPerSecond = 50
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = s.idleTimeout * 9 / 10
	}

	return s
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection's
// read loop until the client disconnects. Registry cleanup happens
// synchronously before the handler returns.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := registry.ConnID(uuid.NewString())
	c := newConn(id, sock, s.log, s.sendQueueSize)

	if !s.addConn(c) {
		// Server is shutting down.
		_ = sock.Close()
		return
	}

	s.metrics.Inc(metrics.ConnectionsOpened)
	s.log.Info("client connected", "conn_id", id, "remote_addr", sock.RemoteAddr().String())

	go c.writeLoop(s.pingInterval)

	s.readLoop(c)
	s.disconnect(c)
}

func (s *Server) addConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	return true
}

// disconnect is the sole cleanup path for a departed connection. It is
// idempotent: the second call for the same connection finds nothing to do.
func (s *Server) disconnect(c *conn) {
	s.mu.Lock()
	_, present := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()

	if !present {
		return
	}

	s.reg.RemoveConnection(c.id)
	c.close()

	s.metrics.Inc(metrics.ConnectionsClosed)
	s.log.Info("client disconnected", "conn_id", c.id)

	s.broadcastRooms()
}

func (s *Server) readLoop(c *conn) {
	sock := c.sock
	sock.SetReadLimit(s.maxMessageBytes)
	_ = sock.SetReadDeadline(time.Now().Add(s.idleTimeout))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.messagesPerSecond), int64(s.messagesPerSecond))

	for {
		msgType, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(s.idleTimeout))

		// Apply the rate limit after reading so bytes already buffered by the
		// OS are consumed before we close; closing with unread data can turn
		// into an abortive close that hides the close reason from the client.
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			s.closeWith(c, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.closeWith(c, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		env, err := parseEnvelope(data)
		if err != nil {
			s.rejectMessage(c, err)
			continue
		}
		s.handleEvent(c, env)
	}
}

// rejectMessage reports a malformed payload to the offending connection only.
// The connection stays open and registry state is untouched.
func (s *Server) rejectMessage(c *conn, err error) {
	s.metrics.Inc(metrics.BadMessage)
	s.log.Debug("bad message", "conn_id", c.id, "err", err)
	s.sendTo(c.id, errorEvent(errorTypeBadMessage, err.Error()))
}

func (s *Server) closeWith(c *conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// sendTo relays a message to a single connection by identity. Unknown targets
// and full queues are silent no-ops; the coordinator does not track delivery.
func (s *Server) sendTo(id registry.ConnID, env envelope) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()

	if !ok || !c.enqueue(env) {
		s.metrics.Inc(metrics.RelayDropped)
	}
}

// broadcast fans a message out to every connected client.
func (s *Server) broadcast(env envelope) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(env) {
			s.metrics.Inc(metrics.RelayDropped)
		}
	}
}

// broadcastRooms pushes the current room-list snapshot to all clients so
// every listing stays live across create/join/leave/end/disconnect.
func (s *Server) broadcastRooms() {
	s.broadcast(newEvent(eventRooms, s.reg.ListRooms()))
}

// Close terminates every client connection. In-flight handlers observe their
// sockets closing and run the usual disconnect cleanup.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.closeWith(c, websocket.CloseGoingAway, "server shutting down")
		_ = c.sock.Close()
	}
}
