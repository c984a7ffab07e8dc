// Package presence tracks which identities currently hold a live connection.
package presence

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

const shardCount = 32

type shard struct {
	mu sync.Mutex
	// conns holds live connection ids per identity key, oldest first.
	conns map[string][]string
}

// Registry maps identities to their live connections.
// Monitor connections are never registered here.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string][]string)}
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return r.shards[h.Sum32()%shardCount]
}

// SetOnline records connID for id. It reports whether id was offline before.
func (r *Registry) SetOnline(id domain.Identity, connID string) bool {
	key := id.Key()
	if key == "" || connID == "" {
		return false
	}
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.conns[key]
	for _, c := range conns {
		if c == connID {
			return false
		}
	}
	s.conns[key] = append(conns, connID)
	return len(conns) == 0
}

// SetOffline removes connID from id. It reports whether id has no live
// connection left. Unknown connection ids are ignored.
func (r *Registry) SetOffline(id domain.Identity, connID string) bool {
	key := id.Key()
	if key == "" {
		return false
	}
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.conns[key]
	if !ok {
		return false
	}
	idx := -1
	for i, c := range conns {
		if c == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	conns = append(conns[:idx], conns[idx+1:]...)
	if len(conns) == 0 {
		delete(s.conns, key)
		return true
	}
	s.conns[key] = conns
	return false
}

// IsOnline returns the most recent live connection of id.
func (r *Registry) IsOnline(id domain.Identity) (string, bool) {
	key := id.Key()
	if key == "" {
		return "", false
	}
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.conns[key]
	if len(conns) == 0 {
		return "", false
	}
	return conns[len(conns)-1], true
}

// Connections returns every live connection of id, oldest first.
func (r *Registry) Connections(id domain.Identity) []string {
	key := id.Key()
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.conns[key]...)
}

// OnlineAttendants returns the ids of attendants with a live connection, ascending.
func (r *Registry) OnlineAttendants() []int64 {
	var ids []int64
	for _, s := range r.shards {
		s.mu.Lock()
		for key := range s.conns {
			if id, ok := domain.ParseIdentityKey(key); ok && id.IsAttendant() {
				ids = append(ids, id.UserID)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of identities online.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.conns)
		s.mu.Unlock()
	}
	return n
}
