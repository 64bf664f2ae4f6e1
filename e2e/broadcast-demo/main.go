// broadcast-demo hosts a room on a running coordinator and streams a
// synthetic video track to every viewer that joins. It exercises the full
// host-side flow: create-room, per-viewer offer, trickle ICE, answer.
//
//	SIGNAL_URL=ws://127.0.0.1:8080/signal ROOM_ID=demo go run ./e2e/broadcast-demo
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/livecast/signaling/internal/peerclient"
)

func main() {
	signalURL := envOrDefault("SIGNAL_URL", "ws://127.0.0.1:8080/signal")
	roomID := envOrDefault("ROOM_ID", peerclient.RandomRoomID())
	title := envOrDefault("ROOM_TITLE", "broadcast demo")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	api, err := peerclient.NewAPI(peerclient.APIOptions{Logger: logger})
	if err != nil {
		fatalf("webrtc api: %v", err)
	}
	iceServers := fetchICEServers(signalURL)

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "livecast")
	if err != nil {
		fatalf("new track: %v", err)
	}
	go writeSyntheticSamples(track)

	var (
		mu       sync.Mutex
		sessions = map[string]*peerclient.PeerSession{}
	)
	session := func(viewerID string) *peerclient.PeerSession {
		mu.Lock()
		defer mu.Unlock()
		return sessions[viewerID]
	}

	var client *peerclient.Client
	client, err = peerclient.Dial(context.Background(), signalURL, peerclient.Handlers{
		OnRoomCreated: func(r peerclient.Room) {
			logger.Info("room created", "room_id", r.ID, "title", r.Title)
		},
		OnViewerJoined: func(viewerID, _ string) {
			logger.Info("viewer joined", "viewer_id", viewerID)

			sess, err := peerclient.NewPeerSession(api, iceServers)
			if err != nil {
				logger.Error("new session", "err", err)
				return
			}
			if _, err := sess.AddTrack(track); err != nil {
				logger.Error("add track", "err", err)
				return
			}
			sess.OnICECandidate(func(c webrtc.ICECandidateInit) {
				_ = client.SendCandidate(roomID, viewerID, c)
			})
			sess.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
				logger.Info("peer state", "viewer_id", viewerID, "state", state.String())
			})

			mu.Lock()
			sessions[viewerID] = sess
			mu.Unlock()

			offer, err := sess.CreateOffer()
			if err != nil {
				logger.Error("create offer", "err", err)
				return
			}
			if err := client.SendOffer(roomID, viewerID, offer); err != nil {
				logger.Error("send offer", "err", err)
			}
		},
		OnAnswer: func(viewerID string, answer webrtc.SessionDescription) {
			sess := session(viewerID)
			if sess == nil {
				return
			}
			if err := sess.SetRemoteDescription(answer); err != nil {
				logger.Error("apply answer", "viewer_id", viewerID, "err", err)
			}
		},
		OnCandidate: func(_, viewerID string, c webrtc.ICECandidateInit) {
			if sess := session(viewerID); sess != nil {
				_ = sess.AddRemoteCandidate(c)
			}
		},
		OnServerError: func(errType, message string) {
			logger.Error("coordinator error", "type", errType, "message", message)
		},
		OnDisconnect: func(err error) {
			fatalf("signaling connection lost: %v", err)
		},
	}, logger)
	if err != nil {
		fatalf("dial %s: %v", signalURL, err)
	}
	defer client.Close()

	if err := client.CreateRoom(roomID, title); err != nil {
		fatalf("create room: %v", err)
	}
	fmt.Printf("broadcasting room %q; ^C to end\n", roomID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	_ = client.EndBroadcast(roomID)
	mu.Lock()
	for _, sess := range sessions {
		_ = sess.Close()
	}
	mu.Unlock()
}

// writeSyntheticSamples keeps the track fed at ~30fps. The payload is not a
// valid VP8 stream; it is enough to drive RTP through the peer connection for
// demo purposes.
func writeSyntheticSamples(track *webrtc.TrackLocalStaticSample) {
	frame := make([]byte, 512)
	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()
	for range ticker.C {
		_ = track.WriteSample(media.Sample{Data: frame, Duration: time.Second / 30})
	}
}

// fetchICEServers asks the coordinator for its STUN/TURN list. Failure is
// non-fatal; host candidates usually suffice on a LAN.
func fetchICEServers(signalURL string) []string {
	base := strings.Replace(signalURL, "ws", "http", 1)
	base = strings.TrimSuffix(base, "/signal")

	resp, err := http.Get(base + "/ice")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		ICEServers []string `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	return body.ICEServers
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
