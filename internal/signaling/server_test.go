package signaling_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livecast/signaling/internal/metrics"
	"github.com/livecast/signaling/internal/registry"
	"github.com/livecast/signaling/internal/signaling"
)

type testEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomSnapshot struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	HostID  string   `json:"hostId"`
	Viewers []string `json:"viewers"`
}

func newTestServer(t *testing.T, cfg signaling.Config) *httptest.Server {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv := signaling.NewServer(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	env := map[string]any{"event": event}
	if data != nil {
		env["data"] = data
	}
	if err := c.WriteJSON(env); err != nil {
		t.Fatalf("WriteJSON(%s): %v", event, err)
	}
}

// waitFor reads until an event of the wanted kind arrives, skipping unrelated
// broadcasts (most commonly interleaved "rooms" updates).
func waitFor(t *testing.T, c *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.SetReadDeadline(deadline)
		var ev testEvent
		if err := c.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if ev.Event == event {
			return ev.Data
		}
	}
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func createRoom(t *testing.T, c *websocket.Conn, roomID, title string) roomSnapshot {
	t.Helper()
	send(t, c, "create-room", map[string]string{"roomId": roomID, "title": title})
	return decode[roomSnapshot](t, waitFor(t, c, "room-created"))
}

func TestCreateRoom(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host := dial(t, ts)

	snap := createRoom(t, host, "r1", "Demo")
	if snap.ID != "r1" || snap.Title != "Demo" || snap.HostID == "" || len(snap.Viewers) != 0 {
		t.Fatalf("room-created snapshot = %+v", snap)
	}

	rooms := decode[[]roomSnapshot](t, waitFor(t, host, "rooms"))
	if len(rooms) != 1 || rooms[0].ID != "r1" {
		t.Fatalf("rooms broadcast = %+v", rooms)
	}
}

func TestCreateRoom_Duplicate(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host := dial(t, ts)
	createRoom(t, host, "r1", "Demo")

	other := dial(t, ts)
	send(t, other, "create-room", map[string]string{"roomId": "r1", "title": "Clone"})

	p := decode[struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}](t, waitFor(t, other, "error"))
	if p.Type != "ROOM_ALREADY_EXISTS" {
		t.Fatalf("error type = %q, want ROOM_ALREADY_EXISTS", p.Type)
	}

	// The original room is unaffected.
	send(t, other, "list-rooms", nil)
	rooms := decode[[]roomSnapshot](t, waitFor(t, other, "rooms"))
	if len(rooms) != 1 || rooms[0].Title != "Demo" {
		t.Fatalf("rooms after failed create = %+v", rooms)
	}
}

func TestListRooms_RequesterOnly(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	c := dial(t, ts)

	send(t, c, "list-rooms", nil)
	rooms := decode[[]roomSnapshot](t, waitFor(t, c, "rooms"))
	if len(rooms) != 0 {
		t.Fatalf("rooms = %+v, want empty", rooms)
	}
}

func TestJoinRoom(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host := dial(t, ts)
	room := createRoom(t, host, "r1", "Demo")

	viewer := dial(t, ts)
	send(t, viewer, "join-room", map[string]string{"roomId": "r1"})

	joined := decode[roomSnapshot](t, waitFor(t, viewer, "room-joined"))
	if joined.ID != "r1" || len(joined.Viewers) != 1 {
		t.Fatalf("room-joined snapshot = %+v", joined)
	}
	viewerID := joined.Viewers[0]

	// Only the host is told who joined.
	vj := decode[struct {
		ViewerID string `json:"viewerId"`
		RoomID   string `json:"roomId"`
	}](t, waitFor(t, host, "viewer-joined"))
	if vj.ViewerID != viewerID || vj.RoomID != "r1" {
		t.Fatalf("viewer-joined = %+v, want {%s r1}", vj, viewerID)
	}
	if vj.ViewerID == room.HostID {
		t.Fatalf("host id leaked as viewer id")
	}
}

func TestJoinRoom_NotFound(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	viewer := dial(t, ts)

	send(t, viewer, "join-room", map[string]string{"roomId": "nope"})
	p := decode[struct {
		Type string `json:"type"`
	}](t, waitFor(t, viewer, "error"))
	if p.Type != "ROOM_NOT_FOUND" {
		t.Fatalf("error type = %q, want ROOM_NOT_FOUND", p.Type)
	}

	// The failed join must not have created state.
	send(t, viewer, "list-rooms", nil)
	rooms := decode[[]roomSnapshot](t, waitFor(t, viewer, "rooms"))
	if len(rooms) != 0 {
		t.Fatalf("rooms = %+v, want empty", rooms)
	}
}

// joinedPair returns a host and viewer connected to the same room, along with
// the viewer's connection id.
func joinedPair(t *testing.T, ts *httptest.Server) (host, viewer *websocket.Conn, viewerID string) {
	t.Helper()
	host = dial(t, ts)
	createRoom(t, host, "r1", "Demo")

	viewer = dial(t, ts)
	send(t, viewer, "join-room", map[string]string{"roomId": "r1"})
	joined := decode[roomSnapshot](t, waitFor(t, viewer, "room-joined"))
	waitFor(t, host, "viewer-joined")
	return host, viewer, joined.Viewers[0]
}

func TestSessionOffer_TargetedRelay(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, viewerID := joinedPair(t, ts)

	bystander := dial(t, ts)

	offer := map[string]any{"type": "offer", "sdp": "v=0\r\n"}
	send(t, host, "session-offer", map[string]any{
		"roomId":   "r1",
		"viewerId": viewerID,
		"offer":    offer,
	})

	relay := decode[struct {
		Offer  json.RawMessage `json:"offer"`
		RoomID string          `json:"roomId"`
	}](t, waitFor(t, viewer, "session-offer"))
	if relay.RoomID != "r1" {
		t.Fatalf("relayed roomId = %q", relay.RoomID)
	}
	var got map[string]any
	if err := json.Unmarshal(relay.Offer, &got); err != nil {
		t.Fatalf("unmarshal relayed offer: %v", err)
	}
	if got["sdp"] != "v=0\r\n" {
		t.Fatalf("relayed offer = %v", got)
	}

	// Exactly the addressed viewer receives the offer. The bystander sees at
	// most rooms broadcasts.
	_ = bystander.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var ev testEvent
		if err := bystander.ReadJSON(&ev); err != nil {
			break // timeout: nothing further was delivered
		}
		if ev.Event == "session-offer" {
			t.Fatalf("offer leaked to bystander")
		}
	}
}

func TestSessionOffer_VanishedViewerIsSilentlyDropped(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, viewerID := joinedPair(t, ts)

	_ = viewer.Close()
	// Give the server a moment to run disconnect cleanup.
	waitFor(t, host, "rooms")

	send(t, host, "session-offer", map[string]any{
		"roomId":   "r1",
		"viewerId": viewerID,
		"offer":    map[string]string{"type": "offer", "sdp": "v=0\r\n"},
	})

	// No error comes back; the connection stays healthy.
	send(t, host, "list-rooms", nil)
	waitFor(t, host, "rooms")
}

func TestSessionAnswer_RelayedToHostWithSender(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, viewerID := joinedPair(t, ts)

	send(t, viewer, "session-answer", map[string]any{
		"roomId": "r1",
		"answer": map[string]string{"type": "answer", "sdp": "v=0\r\n"},
	})

	relay := decode[struct {
		Answer   json.RawMessage `json:"answer"`
		ViewerID string          `json:"viewerId"`
	}](t, waitFor(t, host, "session-answer"))
	if relay.ViewerID != viewerID {
		t.Fatalf("answer viewerId = %q, want %q", relay.ViewerID, viewerID)
	}
	if len(relay.Answer) == 0 {
		t.Fatalf("empty relayed answer")
	}
}

func TestICECandidate_HostToViewer(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, viewerID := joinedPair(t, ts)

	send(t, host, "ice-candidate", map[string]any{
		"roomId":    "r1",
		"viewerId":  viewerID,
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 1 127.0.0.1 1234 typ host"},
	})

	relay := decode[struct {
		RoomID    string          `json:"roomId"`
		ViewerID  string          `json:"viewerId"`
		Candidate json.RawMessage `json:"candidate"`
	}](t, waitFor(t, viewer, "ice-candidate"))
	if relay.RoomID != "r1" || len(relay.Candidate) == 0 {
		t.Fatalf("relayed candidate = %+v", relay)
	}
}

func TestICECandidate_ViewerToHostTagged(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, viewerID := joinedPair(t, ts)
	_ = viewer

	send(t, viewer, "ice-candidate", map[string]any{
		"roomId":    "r1",
		"candidate": map[string]any{"candidate": "candidate:2 1 udp 1 127.0.0.1 4321 typ host"},
	})

	relay := decode[struct {
		RoomID    string          `json:"roomId"`
		ViewerID  string          `json:"viewerId"`
		Candidate json.RawMessage `json:"candidate"`
	}](t, waitFor(t, host, "ice-candidate"))
	if relay.ViewerID != viewerID {
		t.Fatalf("candidate viewerId = %q, want %q", relay.ViewerID, viewerID)
	}
}

func TestEndBroadcast(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, _ := joinedPair(t, ts)

	send(t, host, "end-broadcast", "r1")

	// Everyone sees the room disappear without the host's socket closing.
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = viewer.SetReadDeadline(deadline)
		var ev testEvent
		if err := viewer.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for rooms: %v", err)
		}
		if ev.Event != "rooms" {
			continue
		}
		rooms := decode[[]roomSnapshot](t, ev.Data)
		if len(rooms) == 0 {
			break
		}
	}

	send(t, viewer, "join-room", map[string]string{"roomId": "r1"})
	p := decode[struct {
		Type string `json:"type"`
	}](t, waitFor(t, viewer, "error"))
	if p.Type != "ROOM_NOT_FOUND" {
		t.Fatalf("join after end error = %q, want ROOM_NOT_FOUND", p.Type)
	}
}

func TestEndBroadcast_NonHostIgnored(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	_, viewer, _ := joinedPair(t, ts)

	send(t, viewer, "end-broadcast", "r1")

	send(t, viewer, "list-rooms", nil)
	rooms := decode[[]roomSnapshot](t, waitFor(t, viewer, "rooms"))
	if len(rooms) != 1 {
		t.Fatalf("non-host end removed the room: %+v", rooms)
	}
}

func TestLeaveRoom(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	_, viewer, _ := joinedPair(t, ts)

	send(t, viewer, "leave-room", "r1")

	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = viewer.SetReadDeadline(deadline)
		var ev testEvent
		if err := viewer.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for rooms: %v", err)
		}
		if ev.Event != "rooms" {
			continue
		}
		rooms := decode[[]roomSnapshot](t, ev.Data)
		if len(rooms) == 1 && len(rooms[0].Viewers) == 0 {
			break
		}
	}
}

func TestHostDisconnect_RemovesRoom(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, _ := joinedPair(t, ts)

	_ = host.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = viewer.SetReadDeadline(deadline)
		var ev testEvent
		if err := viewer.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for rooms after host disconnect: %v", err)
		}
		if ev.Event != "rooms" {
			continue
		}
		rooms := decode[[]roomSnapshot](t, ev.Data)
		if len(rooms) == 0 {
			break
		}
	}

	// Immediate re-creation of the id under a new host is permitted.
	newHost := dial(t, ts)
	snap := createRoom(t, newHost, "r1", "Again")
	if snap.ID != "r1" {
		t.Fatalf("re-create snapshot = %+v", snap)
	}
}

func TestViewerDisconnect_RemovesOnlyViewer(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	host, viewer, _ := joinedPair(t, ts)

	_ = viewer.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = host.SetReadDeadline(deadline)
		var ev testEvent
		if err := host.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for rooms after viewer disconnect: %v", err)
		}
		if ev.Event != "rooms" {
			continue
		}
		rooms := decode[[]roomSnapshot](t, ev.Data)
		if len(rooms) == 1 && len(rooms[0].Viewers) == 0 {
			break
		}
	}
}

func TestMalformedMessage_PerMessageRejection(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	c := dial(t, ts)

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := decode[struct {
		Type string `json:"type"`
	}](t, waitFor(t, c, "error"))
	if p.Type != "BAD_MESSAGE" {
		t.Fatalf("error type = %q, want BAD_MESSAGE", p.Type)
	}

	// The connection survives and keeps working.
	send(t, c, "list-rooms", nil)
	waitFor(t, c, "rooms")
}

func TestUnknownEvent_Rejected(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	c := dial(t, ts)

	send(t, c, "self-destruct", nil)
	p := decode[struct {
		Type string `json:"type"`
	}](t, waitFor(t, c, "error"))
	if p.Type != "BAD_MESSAGE" {
		t.Fatalf("error type = %q, want BAD_MESSAGE", p.Type)
	}
}

func TestBinaryMessage_ClosesConnection(t *testing.T) {
	ts := newTestServer(t, signaling.Config{})
	c := dial(t, ts)

	if err := c.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
				t.Logf("close err = %v", err)
			}
			return
		}
	}
}

func TestRateLimit_ClosesConnection(t *testing.T) {
	ts := newTestServer(t, signaling.Config{MessagesPerSecond: 5})
	c := dial(t, ts)

	for i := 0; i < 30; i++ {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{"event":"list-rooms"}`)); err != nil {
			return // server already closed on us
		}
	}

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
