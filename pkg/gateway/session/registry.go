package session

import (
	"sort"
	"sync"
)

// Registry holds one entry per live connection, keyed by session id.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert adds s and returns the number of live sessions afterwards.
func (r *Registry) Insert(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	return len(r.sessions)
}

// Remove deletes the session with the given id. It returns the number of live
// sessions afterwards and whether an entry was removed.
func (r *Registry) Remove(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return len(r.sessions), ok
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Snapshot returns the live sessions ordered by connection time.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CountByShard returns the number of live sessions per shard. Sessions that
// did not name a shard are not counted.
func (r *Registry) CountByShard() map[Shard]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Shard]int)
	for _, s := range r.sessions {
		if s.Shard != nil {
			counts[*s.Shard]++
		}
	}
	return counts
}
