package client

import (
	"errors"
	"sort"
	"sync"

	"github.com/park285/boardroom/internal/layout"
)

var ErrDuplicateSession = errors.New("session already registered")

// Registry holds one session per board key. Session calls happen outside
// the registry lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.Key()]; ok {
		return ErrDuplicateSession
	}
	r.sessions[s.Key()] = s
	return nil
}

func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Keys returns board keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remove closes and forgets a session.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// LeaveEverywhereExcept releases seats on every other board and returns the
// number of leave intents sent.
func (r *Registry) LeaveEverywhereExcept(key string) int {
	n := 0
	for _, s := range r.snapshot() {
		if s.Key() != key {
			n += s.LeaveOwnedSeats()
		}
	}
	return n
}

// UpdatePosition fans the player position out to every board.
func (r *Registry) UpdatePosition(p layout.Point) {
	for _, s := range r.snapshot() {
		s.UpdatePosition(p)
	}
}

// SetEnabled is the global mode switch. Disabling tears every board down.
func (r *Registry) SetEnabled(on bool) {
	for _, s := range r.snapshot() {
		s.SetEnabled(on)
	}
}

// Close disables every session and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Session, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.sessions[k])
	}
	return out
}
