package peerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const writeWait = 10 * time.Second

// Room mirrors the coordinator's room snapshot.
type Room struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	HostID  string   `json:"hostId"`
	Viewers []string `json:"viewers"`
}

// Handlers receives coordinator events. Nil entries are ignored. Handlers run
// on the client's read goroutine, so they must not block; hand work off to
// another goroutine if it can take a while.
type Handlers struct {
	OnRoomCreated  func(Room)
	OnRooms        func([]Room)
	OnRoomJoined   func(Room)
	OnViewerJoined func(viewerID, roomID string)
	OnOffer        func(roomID string, offer webrtc.SessionDescription)
	OnAnswer       func(viewerID string, answer webrtc.SessionDescription)
	OnCandidate    func(roomID, viewerID string, candidate webrtc.ICECandidateInit)
	OnServerError  func(errType, message string)
	OnDisconnect   func(err error)
}

// Client is one signaling connection to the coordinator. A broadcaster and a
// viewer use the same client; the difference is which messages they send.
type Client struct {
	log      *slog.Logger
	sock     *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Dial connects to the coordinator's signaling endpoint, e.g.
// "ws://127.0.0.1:8080/signal", and starts dispatching events to handlers.
func Dial(ctx context.Context, rawURL string, handlers Handlers, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sock, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	c := &Client{
		log:      logger,
		sock:     sock,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// CreateRoom registers the caller as host of roomID. The coordinator answers
// with room-created or an error event.
func (c *Client) CreateRoom(roomID, title string) error {
	return c.send("create-room", struct {
		RoomID string `json:"roomId"`
		Title  string `json:"title"`
	}{roomID, title})
}

// ListRooms requests the current room list, delivered via OnRooms.
func (c *Client) ListRooms() error {
	return c.send("list-rooms", nil)
}

// JoinRoom registers the caller as a viewer of roomID.
func (c *Client) JoinRoom(roomID string) error {
	return c.send("join-room", struct {
		RoomID string `json:"roomId"`
	}{roomID})
}

// SendOffer relays a host's offer to one viewer.
func (c *Client) SendOffer(roomID, viewerID string, offer webrtc.SessionDescription) error {
	return c.send("session-offer", struct {
		RoomID   string                    `json:"roomId"`
		ViewerID string                    `json:"viewerId"`
		Offer    webrtc.SessionDescription `json:"offer"`
	}{roomID, viewerID, offer})
}

// SendAnswer relays a viewer's answer to the room's host.
func (c *Client) SendAnswer(roomID string, answer webrtc.SessionDescription) error {
	return c.send("session-answer", struct {
		RoomID string                    `json:"roomId"`
		Answer webrtc.SessionDescription `json:"answer"`
	}{roomID, answer})
}

// SendCandidate relays a local ICE candidate. Hosts must set viewerID to
// address the per-viewer session; viewers leave it empty.
func (c *Client) SendCandidate(roomID, viewerID string, candidate webrtc.ICECandidateInit) error {
	return c.send("ice-candidate", struct {
		RoomID    string                  `json:"roomId"`
		ViewerID  string                  `json:"viewerId,omitempty"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}{roomID, viewerID, candidate})
}

// EndBroadcast tears down a room the caller hosts.
func (c *Client) EndBroadcast(roomID string) error {
	return c.send("end-broadcast", roomID)
}

// LeaveRoom removes the caller from a room's viewer list.
func (c *Client) LeaveRoom(roomID string) error {
	return c.send("leave-room", roomID)
}

// Close sends a close frame and tears down the connection. OnDisconnect is
// not invoked for a locally initiated close.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.sock.Close()
	})
	return err
}

func (c *Client) send(event string, payload any) error {
	env := clientEnvelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", event, err)
		}
		env.Data = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("send %s: connection closed", event)
	default:
	}

	_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.sock.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Locally closed.
			default:
				_ = c.Close()
				if c.handlers.OnDisconnect != nil {
					c.handlers.OnDisconnect(err)
				}
			}
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("unparseable signaling message", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env clientEnvelope) {
	switch env.Event {
	case "room-created":
		var room Room
		if c.decode(env, &room) && c.handlers.OnRoomCreated != nil {
			c.handlers.OnRoomCreated(room)
		}
	case "rooms":
		var rooms []Room
		if c.decode(env, &rooms) && c.handlers.OnRooms != nil {
			c.handlers.OnRooms(rooms)
		}
	case "room-joined":
		var room Room
		if c.decode(env, &room) && c.handlers.OnRoomJoined != nil {
			c.handlers.OnRoomJoined(room)
		}
	case "viewer-joined":
		var p struct {
			ViewerID string `json:"viewerId"`
			RoomID   string `json:"roomId"`
		}
		if c.decode(env, &p) && c.handlers.OnViewerJoined != nil {
			c.handlers.OnViewerJoined(p.ViewerID, p.RoomID)
		}
	case "session-offer":
		var p struct {
			Offer  webrtc.SessionDescription `json:"offer"`
			RoomID string                    `json:"roomId"`
		}
		if c.decode(env, &p) && c.handlers.OnOffer != nil {
			c.handlers.OnOffer(p.RoomID, p.Offer)
		}
	case "session-answer":
		var p struct {
			Answer   webrtc.SessionDescription `json:"answer"`
			ViewerID string                    `json:"viewerId"`
		}
		if c.decode(env, &p) && c.handlers.OnAnswer != nil {
			c.handlers.OnAnswer(p.ViewerID, p.Answer)
		}
	case "ice-candidate":
		var p struct {
			RoomID    string                  `json:"roomId"`
			ViewerID  string                  `json:"viewerId"`
			Candidate webrtc.ICECandidateInit `json:"candidate"`
		}
		if c.decode(env, &p) && c.handlers.OnCandidate != nil {
			c.handlers.OnCandidate(p.RoomID, p.ViewerID, p.Candidate)
		}
	case "error":
		var p struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if c.decode(env, &p) {
			c.log.Warn("coordinator error", "type", p.Type, "message", p.Message)
			if c.handlers.OnServerError != nil {
				c.handlers.OnServerError(p.Type, p.Message)
			}
		}
	default:
		c.log.Debug("unhandled signaling event", "event", env.Event)
	}
}

func (c *Client) decode(env clientEnvelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.log.Warn("bad payload", "event", env.Event, "err", err)
		return false
	}
	return true
}
