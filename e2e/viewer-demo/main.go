// viewer-demo joins a room on a running coordinator and reports the media it
// receives. Without ROOM_ID it joins the first listed room.
//
//	SIGNAL_URL=ws://127.0.0.1:8080/signal ROOM_ID=demo go run ./e2e/viewer-demo
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

	"github.com/pion/webrtc/v4"

	"github.com/livecast/signaling/internal/peerclient"
)

func main() {
	signalURL := envOrDefault("SIGNAL_URL", "ws://127.0.0.1:8080/signal")
	roomID := os.Getenv("ROOM_ID")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	api, err := peerclient.NewAPI(peerclient.APIOptions{Logger: logger})
	if err != nil {
		fatalf("webrtc api: %v", err)
	}
	iceServers := fetchICEServers(signalURL)

	var (
		mu   sync.Mutex
		sess *peerclient.PeerSession
	)
	currentSession := func() *peerclient.PeerSession {
		mu.Lock()
		defer mu.Unlock()
		return sess
	}

	var client *peerclient.Client
	client, err = peerclient.Dial(context.Background(), signalURL, peerclient.Handlers{
		OnRooms: func(rooms []peerclient.Room) {
			if roomID != "" {
				return
			}
			if len(rooms) == 0 {
				fatalf("no rooms to join")
			}
			roomID = rooms[0].ID
			logger.Info("joining first listed room", "room_id", roomID)
			if err := client.JoinRoom(roomID); err != nil {
				fatalf("join room: %v", err)
			}
		},
		OnRoomJoined: func(r peerclient.Room) {
			logger.Info("joined room", "room_id", r.ID, "title", r.Title, "viewers", len(r.Viewers))
		},
		OnOffer: func(offerRoomID string, offer webrtc.SessionDescription) {
			s, err := peerclient.NewPeerSession(api, iceServers)
			if err != nil {
				fatalf("new session: %v", err)
			}
			s.OnICECandidate(func(c webrtc.ICECandidateInit) {
				_ = client.SendCandidate(offerRoomID, "", c)
			})
			s.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
				logger.Info("receiving track",
					"kind", track.Kind().String(),
					"codec", track.Codec().MimeType,
					"ssrc", uint32(track.SSRC()),
				)
				go drainTrack(track)
			})
			s.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
				logger.Info("peer state", "state", state.String())
			})

			mu.Lock()
			sess = s
			mu.Unlock()

			if err := s.SetRemoteDescription(offer); err != nil {
				fatalf("apply offer: %v", err)
			}
			answer, err := s.CreateAnswer()
			if err != nil {
				fatalf("create answer: %v", err)
			}
			if err := client.SendAnswer(offerRoomID, answer); err != nil {
				fatalf("send answer: %v", err)
			}
		},
		OnCandidate: func(_, _ string, c webrtc.ICECandidateInit) {
			if s := currentSession(); s != nil {
				_ = s.AddRemoteCandidate(c)
			}
		},
		OnServerError: func(errType, message string) {
			fatalf("coordinator error %s: %s", errType, message)
		},
		OnDisconnect: func(err error) {
			fatalf("signaling connection lost: %v", err)
		},
	}, logger)
	if err != nil {
		fatalf("dial %s: %v", signalURL, err)
	}
	defer client.Close()

	if roomID != "" {
		if err := client.JoinRoom(roomID); err != nil {
			fatalf("join room: %v", err)
		}
	} else if err := client.ListRooms(); err != nil {
		fatalf("list rooms: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if roomID != "" {
		_ = client.LeaveRoom(roomID)
	}
	if s := currentSession(); s != nil {
		_ = s.Close()
	}
}

// drainTrack keeps the RTP receive path moving; pion buffers stall otherwise.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

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
