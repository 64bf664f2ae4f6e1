package peerclient

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerSession wraps one PeerConnection for a single host<->viewer pairing.
// The host side runs one PeerSession per viewer; the viewer side runs exactly
// one.
//
// Remote candidates handed to AddRemoteCandidate before SetRemoteDescription
// are queued and applied in order once the description lands.
type PeerSession struct {
	pc    *webrtc.PeerConnection
	queue *candidateQueue
}

// NewPeerSession builds a PeerSession on the given API. iceServers entries
// are STUN/TURN URIs as served by the coordinator's /ice endpoint.
func NewPeerSession(api *webrtc.API, iceServers []string) (*PeerSession, error) {
	var cfg webrtc.Configuration
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &PeerSession{pc: pc}
	s.queue = newCandidateQueue(pc.AddICECandidate)
	return s, nil
}

// CreateOffer produces and installs the local offer. The returned description
// is what goes into a session-offer signaling message.
func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer produces and installs the local answer. It must run after
// SetRemoteDescription has applied the offer.
func (s *PeerSession) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

// SetRemoteDescription applies the remote offer or answer, then drains any
// candidates that arrived early.
func (s *PeerSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if err := s.queue.markReady(); err != nil {
		return fmt.Errorf("apply queued candidates: %w", err)
	}
	return nil
}

// AddRemoteCandidate feeds a candidate received over signaling into the
// session, queueing it if the remote description has not been applied yet.
func (s *PeerSession) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	return s.queue.add(c)
}

// OnICECandidate registers the callback for locally gathered candidates. The
// end-of-gathering nil candidate is filtered out; callers only see candidates
// worth relaying.
func (s *PeerSession) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

// OnTrack registers the callback for inbound media, used by viewers.
func (s *PeerSession) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	s.pc.OnTrack(f)
}

// AddTrack attaches an outbound media track, used by hosts.
func (s *PeerSession) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return s.pc.AddTrack(track)
}

// OnConnectionStateChange registers the peer connection state callback.
func (s *PeerSession) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	s.pc.OnConnectionStateChange(f)
}

// PC exposes the underlying PeerConnection for uses the wrapper doesn't
// cover, such as data channels.
func (s *PeerSession) PC() *webrtc.PeerConnection {
	return s.pc
}

func (s *PeerSession) Close() error {
	return s.pc.Close()
}
