package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livecast/signaling/internal/registry"
)

const (
	// Time allowed to write a single message to the peer.
	writeWait = 10 * time.Second

	// defaultIdleTimeout is how long a connection may go without traffic
	// (including pong frames) before the read loop gives up on it.
	defaultIdleTimeout = 60 * time.Second

	// defaultSendQueueSize bounds per-connection outbound buffering. Relay is
	// best-effort: when the queue is full the message is dropped, never
	// blocking the sending connection's handler.
	defaultSendQueueSize = 64
)

// conn wraps a single client WebSocket. All writes to the socket happen on
// the writeLoop goroutine; other goroutines hand messages over via enqueue.
type conn struct {
	id   registry.ConnID
	sock *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	send   chan envelope
	closed bool
}

func newConn(id registry.ConnID, sock *websocket.Conn, log *slog.Logger, queueSize int) *conn {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &conn{
		id:   id,
		sock: sock,
		log:  log,
		send: make(chan envelope, queueSize),
	}
}

// enqueue hands a message to the connection's write loop. It reports false
// when the message was dropped because the connection is closed or its queue
// is full.
func (c *conn) enqueue(env envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// close marks the connection as closed and releases the write loop. Safe to
// call more than once.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writeLoop drains the send queue onto the socket and keeps the connection
// alive with periodic pings. It owns all writes to the socket.
func (c *conn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.sock.WriteJSON(env); err != nil {
				c.log.Debug("write failed", "conn_id", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
