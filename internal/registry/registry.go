package registry

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/ClareAI/astra-call-orchestrator/internal/channel"
)

const shardCount = 32

// Entry associates a provider call ID with the session that owns it and
// the handler that receives its events.
type Entry struct {
	SessionID string
	Handler   channel.CallHandler
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Registry maps provider call IDs to active sessions. It is sharded so
// bursts of concurrent connects do not serialize on one lock.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return r
}

func (r *Registry) shardFor(callID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	return r.shards[h.Sum32()%shardCount]
}

// Put registers a call. It errors when the call ID is already present,
// which makes replayed connect webhooks a no-op upstream.
func (r *Registry) Put(callID string, entry Entry) error {
	s := r.shardFor(callID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[callID]; exists {
		return fmt.Errorf("call %s already registered", callID)
	}
	s.entries[callID] = entry
	return nil
}

// Get looks up the entry for a call ID.
func (r *Registry) Get(callID string) (Entry, bool) {
	s := r.shardFor(callID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[callID]
	return entry, ok
}

// Remove drops a call ID. Removing an absent ID is a no-op.
func (r *Registry) Remove(callID string) {
	s := r.shardFor(callID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, callID)
}

// Len returns the number of registered calls.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Snapshot returns a copy of all entries keyed by call ID. Used by the
// shutdown drain so it can end calls without holding shard locks.
func (r *Registry) Snapshot() map[string]Entry {
	out := make(map[string]Entry)
	for _, s := range r.shards {
		s.mu.RLock()
		for id, entry := range s.entries {
			out[id] = entry
		}
		s.mu.RUnlock()
	}
	return out
}
