package signaling

import (
	"errors"

	"github.com/livecast/signaling/internal/metrics"
	"github.com/livecast/signaling/internal/registry"
)

// handleEvent maps one inbound event to registry calls and outbound relays.
// Every event is processed to completion before the connection's next message
// is read.
func (s *Server) handleEvent(c *conn, env envelope) {
	switch env.Event {
	case eventCreateRoom:
		s.handleCreateRoom(c, env.Data)
	case eventListRooms:
		s.sendTo(c.id, newEvent(eventRooms, s.reg.ListRooms()))
	case eventJoinRoom:
		s.handleJoinRoom(c, env.Data)
	case eventSessionOffer:
		s.handleSessionOffer(c, env.Data)
	case eventSessionAnswer:
		s.handleSessionAnswer(c, env.Data)
	case eventICECandidate:
		s.handleICECandidate(c, env.Data)
	case eventEndBroadcast:
		s.handleEndBroadcast(c, env.Data)
	case eventLeaveRoom:
		s.handleLeaveRoom(c, env.Data)
	default:
		s.rejectMessage(c, errors.New("unknown event "+string(env.Event)))
	}
}

func (s *Server) handleCreateRoom(c *conn, data []byte) {
	var req createRoomPayload
	if err := decodeStrict(data, &req); err != nil {
		s.rejectMessage(c, err)
		return
	}
	if req.RoomID == "" {
		s.sendTo(c.id, errorEvent(errorTypeBadMessage, "empty room id"))
		return
	}

	snap, err := s.reg.CreateRoom(c.id, req.RoomID, req.Title)
	if errors.Is(err, registry.ErrRoomExists) {
		s.sendTo(c.id, errorEvent(errorTypeRoomExists, "room "+req.RoomID+" already exists"))
		return
	}
	if err != nil {
		s.sendTo(c.id, errorEvent(errorTypeBadMessage, err.Error()))
		return
	}

	s.metrics.Inc(metrics.RoomsCreated)
	s.log.Info("room created", "room_id", snap.ID, "host_id", snap.HostID, "title", snap.Title)

	s.sendTo(c.id, newEvent(eventRoomCreated, snap))
	s.broadcastRooms()
}

func (s *Server) handleJoinRoom(c *conn, data []byte) {
	var req joinRoomPayload
	if err := decodeStrict(data, &req); err != nil {
		s.rejectMessage(c, err)
		return
	}

	snap, err := s.reg.JoinRoom(req.RoomID, c.id)
	if errors.Is(err, registry.ErrRoomNotFound) {
		s.sendTo(c.id, errorEvent(errorTypeRoomNotFound, "room "+req.RoomID+" not found"))
		return
	}
	if err != nil {
		s.sendTo(c.id, errorEvent(errorTypeBadMessage, err.Error()))
		return
	}

	s.metrics.Inc(metrics.ViewersJoined)
	s.log.Info("viewer joined", "room_id", snap.ID, "viewer_id", c.id)

	s.sendTo(c.id, newEvent(eventRoomJoined, snap))
	// The host initiates one peer handshake per viewer, so only the host
	// learns the new viewer's identity.
	s.sendTo(snap.HostID, newEvent(eventViewerJoined, viewerJoinedPayload{
		ViewerID: c.id,
		RoomID:   snap.ID,
	}))
	s.broadcastRooms()
}

// handleSessionOffer is a pure targeted relay: no registry interaction, no
// delivery tracking.
func (s *Server) handleSessionOffer(c *conn, data []byte) {
	var req offerPayload
	if err := decodeStrict(data, &req); err != nil {
		s.rejectMessage(c, err)
		return
	}
	if req.ViewerID == "" || len(req.Offer) == 0 {
		s.sendTo(c.id, errorEvent(errorTypeBadMessage, "offer requires viewerId and offer"))
		return
	}

	s.sendTo(req.ViewerID, newEvent(eventSessionOffer, offerRelay{
		Offer:  req.Offer,
		RoomID: req.RoomID,
	}))
}

func (s *Server) handleSessionAnswer(c *conn, data []byte) {
	var req answerPayload
	if err := decodeStrict(data, &req); err != nil {
		s.rejectMessage(c, err)
		return
	}
	if len(req.Answer) == 0 {
		s.sendTo(c.id, errorEvent(errorTypeBadMessage, "answer requires answer"))
		return
	}

	// Dropped silently when the room is already gone: the host that would
	// receive it has disconnected.
	snap, ok := s.reg.GetRoom(req.RoomID)
	if !ok {
		s.metrics.Inc(metrics.RelayDropped)
		return
	}

	s.sendTo(snap.HostID, newEvent(eventSessionAnswer, answerRelay{
		Answer:   req.Answer,
		ViewerID: c.id,
	}))
}

func (s *Server) handleICECandidate(c *conn, data []byte) {
	var req candidatePayload
	if err := decodeStrict(data, &req); err != nil {
		s.rejectMessage(c, err)
		return
	}
	if len(req.Candidate) == 0 {
		s.sendTo(c.id, errorEvent(errorTypeBadMessage, "candidate requires candidate"))
		return
	}

	snap, ok := s.reg.GetRoom(req.RoomID)
	if !ok {
		s.metrics.Inc(metrics.RelayDropped)
		return
	}

	if c.id == snap.HostID {
		// The host addresses the per-viewer session it is driving.
		if req.ViewerID == "" {
			s.sendTo(c.id, errorEvent(errorTypeBadMessage, "host candidate requires viewerId"))
			return
		}
		s.sendTo(req.ViewerID, newEvent(eventICECandidate, candidatePayload{
			RoomID:    req.RoomID,
			Candidate: req.Candidate,
		}))
		return
	}

	// Viewer-side candidates always go to the host, tagged with the sender so
	// the host can route them to the matching per-viewer session.
	s.sendTo(snap.HostID, newEvent(eventICECandidate, candidatePayload{
		RoomID:    req.RoomID,
		ViewerID:  c.id,
		Candidate: req.Candidate,
	}))
}

// handleEndBroadcast tears the room down without requiring the host's
// transport connection to close. Only the room's host may end it; requests
// for rooms the sender does not host are ignored.
func (s *Server) handleEndBroadcast(c *conn, data []byte) {
	roomID, err := decodeRoomID(data)
	if err != nil {
		s.rejectMessage(c, err)
		return
	}

	if _, ok := s.reg.EndRoom(roomID, c.id); !ok {
		return
	}

	s.metrics.Inc(metrics.RoomsClosed)
	s.log.Info("broadcast ended", "room_id", roomID, "host_id", c.id)

	s.broadcastRooms()
}

func (s *Server) handleLeaveRoom(c *conn, data []byte) {
	roomID, err := decodeRoomID(data)
	if err != nil {
		s.rejectMessage(c, err)
		return
	}

	s.reg.LeaveRoom(roomID, c.id)
	s.log.Info("viewer left", "room_id", roomID, "viewer_id", c.id)
	s.broadcastRooms()
}
