package metrics

import "sync"

// Counter names used by the coordinator. Names are intentionally simple; a
// follow-up metrics task can standardize and export these via OTel.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	RoomsCreated      = "rooms_created"
	RoomsClosed       = "rooms_closed"
	ViewersJoined     = "viewers_joined"
	RelayDropped      = "relay_dropped"
	BadMessage        = "bad_message"
	RateLimited       = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and counts nothing, so callers don't have to guard
// every increment site.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
