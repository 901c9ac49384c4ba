// Package registry implements the connection registry (C5): an
// in-process map from a user's hex to the set of live sockets they
// hold open, exposed through a narrow interface that hides its own
// locking from every caller.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brinewave/cipherline/internal/metrics"
)

// Conn is anything the registry can hand a frame to. Session handlers
// implement it by wrapping a *websocket.Conn.
type Conn interface {
	// Send enqueues payload for delivery to this socket; it must never
	// block the caller on a slow reader.
	Send(payload []byte, binary bool)
	// Close terminates the underlying socket with the given close code.
	Close(code int, reason string)
}

// Handle identifies one registered connection instance.
type Handle struct {
	ID        string
	UserHex   string
	Conn      Conn
	Connected time.Time
}

// Registry tracks every live connection per user hex. It exposes only
// method calls (register, unregister, lookup, send, close, snapshot) —
// no caller ever reaches the underlying mutex or maps.
type Registry struct {
	mu    sync.RWMutex
	byUser map[string]map[string]*Handle // userHex -> instanceID -> handle
}

func New() *Registry {
	return &Registry{byUser: make(map[string]map[string]*Handle)}
}

// Register adds conn under userHex and returns the handle's instance id,
// used later to Unregister exactly this socket.
func (r *Registry) Register(userHex string, conn Conn) string {
	id := uuid.NewString()
	h := &Handle{ID: id, UserHex: userHex, Conn: conn, Connected: time.Now().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[userHex]
	if !ok {
		set = make(map[string]*Handle)
		r.byUser[userHex] = set
	}
	set[id] = h
	metrics.ConnectedUsers.Set(float64(len(r.byUser)))
	return id
}

// Unregister removes the connection identified by (userHex, id).
func (r *Registry) Unregister(userHex, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[userHex]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byUser, userHex)
	}
	metrics.ConnectedUsers.Set(float64(len(r.byUser)))
}

// Online reports whether userHex currently holds any open connection.
func (r *Registry) Online(userHex string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userHex]) > 0
}

// Send delivers payload to every socket userHex holds on this
// instance, dropping the frame for any socket that isn't ready rather
// than blocking the caller. It reports whether any local socket was
// reached, so callers can decide whether the delivery queue (C9) owes
// a retry on another instance.
func (r *Registry) Send(userHex string, payload []byte, binary bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byUser[userHex]
	if !ok || len(set) == 0 {
		return false
	}
	for _, h := range set {
		h.Conn.Send(payload, binary)
	}
	return true
}

// CloseAll closes every connection userHex holds, used when an account
// is suspended or removed.
func (r *Registry) CloseAll(userHex string, code int, reason string) {
	r.mu.Lock()
	set := r.byUser[userHex]
	delete(r.byUser, userHex)
	metrics.ConnectedUsers.Set(float64(len(r.byUser)))
	r.mu.Unlock()

	for _, h := range set {
		h.Conn.Close(code, reason)
	}
}

// Snapshot returns the user hexes with at least one live connection.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for userHex := range r.byUser {
		out = append(out, userHex)
	}
	return out
}
