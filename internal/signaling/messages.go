package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/livecast/signaling/internal/registry"
)

type eventType string

// Client-to-coordinator events.
const (
	eventCreateRoom    eventType = "create-room"
	eventListRooms     eventType = "list-rooms"
	eventJoinRoom      eventType = "join-room"
	eventSessionOffer  eventType = "session-offer"
	eventSessionAnswer eventType = "session-answer"
	eventICECandidate  eventType = "ice-candidate"
	eventEndBroadcast  eventType = "end-broadcast"
	eventLeaveRoom     eventType = "leave-room"
)

// Coordinator-to-client events. session-offer/session-answer/ice-candidate
// are relayed under their inbound names.
const (
	eventRoomCreated  eventType = "room-created"
	eventRooms        eventType = "rooms"
	eventRoomJoined   eventType = "room-joined"
	eventViewerJoined eventType = "viewer-joined"
	eventError        eventType = "error"
)

// Error types carried by the error event. Machine-readable; the accompanying
// message is for humans.
const (
	errorTypeRoomExists   = "ROOM_ALREADY_EXISTS"
	errorTypeRoomNotFound = "ROOM_NOT_FOUND"
	errorTypeBadMessage   = "BAD_MESSAGE"
)

// envelope is the framing for every message in both directions: a named
// event plus an event-specific payload. SDP and candidate payloads stay
// opaque (json.RawMessage); the coordinator relays them without
// interpretation.
type envelope struct {
	Event eventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type createRoomPayload struct {
	RoomID string `json:"roomId"`
	Title  string `json:"title"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// offerPayload is sent by a host and relayed verbatim to one viewer.
type offerPayload struct {
	RoomID   string          `json:"roomId"`
	ViewerID registry.ConnID `json:"viewerId"`
	Offer    json.RawMessage `json:"offer"`
}

// offerRelay is the viewer-facing shape of a relayed offer.
type offerRelay struct {
	Offer  json.RawMessage `json:"offer"`
	RoomID string          `json:"roomId"`
}

// answerPayload is sent by a viewer in response to an offer.
type answerPayload struct {
	RoomID string          `json:"roomId"`
	Answer json.RawMessage `json:"answer"`
}

// answerRelay is the host-facing shape of a relayed answer, tagged with the
// answering viewer so the host can route it to the matching peer session.
type answerRelay struct {
	Answer   json.RawMessage `json:"answer"`
	ViewerID registry.ConnID `json:"viewerId"`
}

// candidatePayload is sent by either side and relayed in the same shape.
// viewerId is required when the sender is the host (the host drives one
// session per viewer); when the sender is a viewer the coordinator fills it
// in for the host-facing relay.
type candidatePayload struct {
	RoomID    string          `json:"roomId"`
	ViewerID  registry.ConnID `json:"viewerId,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type viewerJoinedPayload struct {
	ViewerID registry.ConnID `json:"viewerId"`
	RoomID   string          `json:"roomId"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := decodeStrict(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Event == "" {
		return envelope{}, fmt.Errorf("missing event name")
	}
	return env, nil
}

func newEvent(event eventType, payload any) envelope {
	if payload == nil {
		return envelope{Event: event}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// All payload types in this package marshal unconditionally.
		panic(fmt.Sprintf("marshal %s payload: %v", event, err))
	}
	return envelope{Event: event, Data: data}
}

func errorEvent(errType, message string) envelope {
	return newEvent(eventError, errorPayload{Type: errType, Message: message})
}

// decodeStrict decodes JSON while rejecting unknown fields and trailing data,
// so protocol drift between client and coordinator surfaces as an explicit
// error instead of silently dropped fields.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

// decodeRoomID decodes the bare-string payload used by end-broadcast and
// leave-room.
func decodeRoomID(data []byte) (string, error) {
	var roomID string
	if err := decodeStrict(data, &roomID); err != nil {
		return "", err
	}
	if roomID == "" {
		return "", fmt.Errorf("empty room id")
	}
	return roomID, nil
}
