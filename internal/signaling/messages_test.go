package signaling

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"event":"join-room","data":{"roomId":"r1"}}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Event != eventJoinRoom {
		t.Fatalf("event = %q, want %q", env.Event, eventJoinRoom)
	}

	var req joinRoomPayload
	if err := decodeStrict(env.Data, &req); err != nil {
		t.Fatalf("decodeStrict: %v", err)
	}
	if req.RoomID != "r1" {
		t.Fatalf("roomId = %q, want r1", req.RoomID)
	}
}

func TestParseEnvelope_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"missing event", `{"data":{}}`},
		{"unknown field", `{"event":"list-rooms","extra":1}`},
		{"trailing data", `{"event":"list-rooms"}{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseEnvelope([]byte(tc.in)); err == nil {
				t.Fatalf("parseEnvelope(%q) succeeded, want error", tc.in)
			}
		})
	}
}

func TestDecodeStrict_UnknownPayloadField(t *testing.T) {
	var req createRoomPayload
	err := decodeStrict([]byte(`{"roomId":"r1","title":"t","bogus":true}`), &req)
	if err == nil {
		t.Fatalf("decodeStrict accepted unknown field")
	}
}

func TestDecodeRoomID(t *testing.T) {
	roomID, err := decodeRoomID([]byte(`"r1"`))
	if err != nil {
		t.Fatalf("decodeRoomID: %v", err)
	}
	if roomID != "r1" {
		t.Fatalf("roomID = %q, want r1", roomID)
	}

	if _, err := decodeRoomID([]byte(`""`)); err == nil {
		t.Fatalf("empty room id accepted")
	}
	if _, err := decodeRoomID([]byte(`{"roomId":"r1"}`)); err == nil {
		t.Fatalf("object payload accepted for bare-string event")
	}
}

func TestNewEvent_OpaquePayloadsSurviveRelay(t *testing.T) {
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n","weird":[1,2,3]}`)
	env := newEvent(eventSessionOffer, offerRelay{Offer: offer, RoomID: "r1"})

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	parsed, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	var relay offerRelay
	if err := decodeStrict(parsed.Data, &relay); err != nil {
		t.Fatalf("decodeStrict: %v", err)
	}
	if string(relay.Offer) != string(offer) {
		t.Fatalf("offer payload mutated in relay:\n got %s\nwant %s", relay.Offer, offer)
	}
}

func TestErrorEvent(t *testing.T) {
	env := errorEvent(errorTypeRoomNotFound, "room r1 not found")
	if env.Event != eventError {
		t.Fatalf("event = %q, want %q", env.Event, eventError)
	}
	var p errorPayload
	if err := decodeStrict(env.Data, &p); err != nil {
		t.Fatalf("decodeStrict: %v", err)
	}
	if p.Type != errorTypeRoomNotFound || !strings.Contains(p.Message, "r1") {
		t.Fatalf("payload = %+v", p)
	}
}
