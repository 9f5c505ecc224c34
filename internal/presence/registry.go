// Package presence tracks which users currently hold live realtime
// connections. It holds no persistent state: after a process restart every
// user is offline until their client reconnects.
package presence

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Registry maps user ids to their open connection handles. A user may hold
// several handles at once (multiple tabs or devices) and counts as online
// while at least one remains registered.
type Registry[C comparable] struct {
	mu    sync.RWMutex
	conns map[string]mapset.Set[C]

	// onChange is invoked with the current online user ids after every
	// register/unregister, outside the registry lock.
	onChange func(online []string)
}

func NewRegistry[C comparable]() *Registry[C] {
	return &Registry[C]{
		conns: make(map[string]mapset.Set[C]),
	}
}

// OnChange installs the presence-changed callback. Must be set before the
// first connection registers.
func (r *Registry[C]) OnChange(fn func(online []string)) {
	r.onChange = fn
}

func (r *Registry[C]) Register(userID string, conn C) {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = mapset.NewThreadUnsafeSet[C]()
		r.conns[userID] = set
	}
	set.Add(conn)
	r.mu.Unlock()

	r.notifyChange()
}

// Unregister removes one connection handle. It is idempotent: unregistering
// a handle twice, or a handle that was never registered, is a no-op. The
// user disappears from the registry when their last handle is removed.
func (r *Registry[C]) Unregister(userID string, conn C) {
	r.mu.Lock()
	if set, ok := r.conns[userID]; ok {
		set.Remove(conn)
		if set.Cardinality() == 0 {
			delete(r.conns, userID)
		}
	}
	r.mu.Unlock()

	r.notifyChange()
}

func (r *Registry[C]) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ListOnline returns the ids of all users with at least one open connection,
// sorted for deterministic broadcasts.
func (r *Registry[C]) ListOnline() []string {
	r.mu.RLock()
	online := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		online = append(online, userID)
	}
	r.mu.RUnlock()

	sort.Strings(online)
	return online
}

// ConnectionsFor returns the open connection handles of a user, possibly
// empty. An offline user is not an error.
func (r *Registry[C]) ConnectionsFor(userID string) []C {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.conns[userID]
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// AllConnections returns every registered handle across all users.
func (r *Registry[C]) AllConnections() []C {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []C
	for _, set := range r.conns {
		all = append(all, set.ToSlice()...)
	}
	return all
}

func (r *Registry[C]) notifyChange() {
	if r.onChange != nil {
		r.onChange(r.ListOnline())
	}
}
