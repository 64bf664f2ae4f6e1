package peerclient

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// candidateQueue buffers remote ICE candidates that arrive before the remote
// description has been applied. Candidates added before markReady are held;
// markReady drains them in arrival order and every later add applies
// immediately. pion rejects candidates added before SetRemoteDescription, and
// signaling routinely delivers them early because trickle ICE starts as soon
// as the offer is created.
type candidateQueue struct {
	apply func(webrtc.ICECandidateInit) error

	mu      sync.Mutex
	ready   bool
	pending []webrtc.ICECandidateInit
}

func newCandidateQueue(apply func(webrtc.ICECandidateInit) error) *candidateQueue {
	return &candidateQueue{apply: apply}
}

func (q *candidateQueue) add(c webrtc.ICECandidateInit) error {
	q.mu.Lock()
	if !q.ready {
		q.pending = append(q.pending, c)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.apply(c)
}

// markReady drains the pending candidates in order. A failing candidate does
// not stop the drain; the first error is returned.
func (q *candidateQueue) markReady() error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.ready = true
	q.mu.Unlock()

	var firstErr error
	for _, c := range pending {
		if err := q.apply(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
