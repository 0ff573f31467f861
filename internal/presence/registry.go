// Package presence tracks which identities currently hold a live connection.
// The registry is process-wide state shared by every connection goroutine;
// horizontal scaling would need an external fanout layer in front of it.
package presence

import (
	"sync"
	"time"
)

// Session is the bookkeeping for one identity's most recent connection.
// With multiple devices online the last writer wins; the connection count
// keeps the identity online until the final socket closes.
type Session struct {
	ConnID      string
	StableID    string
	UserID      int
	ConnectedAt time.Time
	LastSeen    time.Time
}

type entry struct {
	session Session
	conns   int
}

// Registry is a mutex-guarded map of stable identity to session. All methods
// are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	onSize  func(int)
}

// NewRegistry builds an empty registry. onSize, if non-nil, is invoked with
// the online-identity count after every change (used for the metrics gauge).
func NewRegistry(onSize func(int)) *Registry {
	return &Registry{entries: make(map[string]*entry), onSize: onSize}
}

// Register inserts or overwrites the session for an identity and reports
// whether the identity just came online (first live connection).
func (r *Registry) Register(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[s.StableID]
	if !ok {
		r.entries[s.StableID] = &entry{session: s, conns: 1}
		r.notifySize()
		return true
	}
	e.session = s
	e.conns++
	return false
}

// Unregister drops one connection for an identity and reports whether the
// identity just went offline (no live connections remain). Unknown identities
// are a no-op.
func (r *Registry) Unregister(stableID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[stableID]
	if !ok {
		return false
	}
	e.conns--
	if e.conns > 0 {
		return false
	}
	delete(r.entries, stableID)
	r.notifySize()
	return true
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(stableID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[stableID]
	return ok
}

// Touch refreshes the last-seen timestamp on heartbeat or activity.
func (r *Registry) Touch(stableID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[stableID]; ok {
		e.session.LastSeen = at
	}
}

// Get returns the current session for an identity.
func (r *Registry) Get(stableID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[stableID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Snapshot returns the identities online at call time, each exactly once.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) notifySize() {
	if r.onSize != nil {
		r.onSize(len(r.entries))
	}
}
