// Package worker contains the long-running engine loops: connection
// reconciliation, inbound event handling, outbound dispatch, message-job
// processing, historical sync and their supervision.
package worker

import (
	"sync"

	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/pkg/models"
)

// AccountInfo is the per-account snapshot kept alongside a live session.
type AccountInfo struct {
	Platform models.Platform
	Name     string
}

type registryEntry struct {
	session       provider.Session
	info          AccountInfo
	stopHeartbeat func()
}

// Registry owns the set of live provider sessions of one worker process.
// Membership is mutated only by the connection manager; every other loop
// just reads sessions out of it.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*registryEntry
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*registryEntry)}
}

// Register adds a live session for an account
func (r *Registry) Register(accountID int64, session provider.Session, info AccountInfo, stopHeartbeat func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[accountID] = &registryEntry{
		session:       session,
		info:          info,
		stopHeartbeat: stopHeartbeat,
	}
}

// Remove drops an account and returns its session and heartbeat stopper
// so the caller can tear them down
func (r *Registry) Remove(accountID int64) (provider.Session, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[accountID]
	if !ok {
		return nil, nil, false
	}
	delete(r.entries, accountID)
	return entry.session, entry.stopHeartbeat, true
}

// Session returns the live session for an account, or nil
func (r *Registry) Session(accountID int64) provider.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[accountID]
	if !ok {
		return nil
	}
	return entry.session
}

// Info returns the account snapshot for a connected account
func (r *Registry) Info(accountID int64) (AccountInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[accountID]
	if !ok {
		return AccountInfo{}, false
	}
	return entry.info, true
}

// IDs returns the ids of all connected accounts
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of connected accounts
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// keyMutex provides one mutex per string key. It guards the find-or-create
// identity/conversation sequence so two concurrent first-contact events for
// the same address cannot create two conversations.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns its unlock function
func (k *keyMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
