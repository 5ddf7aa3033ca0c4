package hypercube

import (
	"sync"
	"sync/atomic"

	"github.com/vango-dev/hypercube/pkg/protocol"
)

// Registry is the live set of sessions of one Scope.
//
// Membership is guarded by a short read/write lock. Broadcasts take a
// snapshot under the read lock and write to each session after releasing
// it, so a slow client never blocks Add or Remove.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	peak     int

	totalAdded   atomic.Uint64
	totalRemoved atomic.Uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add inserts a session. It reports false if the session was already present.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return false
	}
	r.sessions[s.ID] = s
	if len(r.sessions) > r.peak {
		r.peak = len(r.sessions)
	}
	r.totalAdded.Add(1)
	return true
}

// Remove deletes a session. It reports false if the session was not present.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; !exists {
		return false
	}
	delete(r.sessions, s.ID)
	r.totalRemoved.Add(1)
	return true
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the current members. Sessions added or removed after
// the call are not reflected.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast emits event and data to every session in a snapshot of the
// registry. The envelope is encoded once; an encoding error is returned
// and nothing is sent. Per-session delivery failures are dropped.
func (r *Registry) Broadcast(event string, data any) error {
	text, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	r.BroadcastRaw(text)
	return nil
}

// BroadcastRaw sends raw text to every session in a snapshot of the
// registry.
func (r *Registry) BroadcastRaw(text string) {
	for _, s := range r.Snapshot() {
		s.Send(text)
	}
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	active := len(r.sessions)
	peak := r.peak
	r.mu.RUnlock()

	return Stats{
		Active:      active,
		Peak:        peak,
		TotalOpened: r.totalAdded.Load(),
		TotalClosed: r.totalRemoved.Load(),
	}
}

// Stats contains aggregated registry statistics.
type Stats struct {
	Active      int
	Peak        int
	TotalOpened uint64
	TotalClosed uint64
}
