// Package peerclient is the Go client SDK for the signaling coordinator: a
// WebSocket signaling client plus a PeerSession wrapper around pion that
// buffers remote ICE candidates until the remote description is applied.
package peerclient

import (
	"fmt"
	"log/slog"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// APIOptions configures the shared pion API used to build PeerSessions.
type APIOptions struct {
	// Logger receives pion's internal diagnostics. Nil disables them.
	Logger *slog.Logger

	// Net overrides the network stack, used by tests to run peers over a
	// virtual network.
	Net transport.Net
}

// NewAPI builds a webrtc.API with default media codecs registered. One API
// can back any number of PeerSessions.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if opts.Logger != nil {
		se.LoggerFactory = newSlogLoggerFactory(opts.Logger)
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}
