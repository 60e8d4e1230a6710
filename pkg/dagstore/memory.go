// Copyright 2025 Kylix Project
//
// In-memory DAG store variant

package dagstore

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/anusornc/kylix/pkg/errs"
)

// MemoryStore is the pure in-memory DAG store variant. It is safe for
// concurrent readers and a single logical writer, guarded by a mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]*NodeRecord
	edges  map[string][]Edge // keyed by "from"
	logger *log.Logger
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[string]*NodeRecord),
		edges:  make(map[string][]Edge),
		logger: log.New(os.Stderr, "dagstore: ", log.LstdFlags),
	}
}

// AddNode inserts or overwrites the cache entry for id. The admission layer
// (chainserver) is responsible for enforcing id uniqueness; the store
// itself is idempotent by id.
func (s *MemoryStore) AddNode(id string, data *NodeRecord) error {
	if data == nil {
		return errs.ErrInvalidData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = data
	return nil
}

// AddEdge requires both endpoints to already exist in the cache.
func (s *MemoryStore) AddEdge(from, to, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[from]; !ok {
		return fmt.Errorf("%w: edge source %s", errs.ErrNodeNotFound, from)
	}
	if _, ok := s.nodes[to]; !ok {
		return fmt.Errorf("%w: edge target %s", errs.ErrNodeNotFound, to)
	}
	s.edges[from] = append(s.edges[from], Edge{From: from, To: to, Label: label})
	return nil
}

// GetNode returns the cached record, or errs.ErrNotFound.
func (s *MemoryStore) GetNode(id string) (*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, id)
	}
	return rec, nil
}

// GetAllNodes returns every (id, record) pair currently cached.
func (s *MemoryStore) GetAllNodes() (map[string]*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*NodeRecord, len(s.nodes))
	for id, rec := range s.nodes {
		out[id] = rec
	}
	return out, nil
}

// Query returns every node matching pattern, with its outgoing edges.
func (s *MemoryStore) Query(pattern Pattern) ([]QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []QueryResult
	for id, rec := range s.nodes {
		if rec == nil || !pattern.matches(rec) {
			continue
		}
		out = append(out, QueryResult{
			ID:            id,
			Data:          rec,
			OutgoingEdges: append([]Edge(nil), s.edges[id]...),
		})
	}
	return out, nil
}

// ClearAll drops every in-memory table. Test hook only.
func (s *MemoryStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*NodeRecord)
	s.edges = make(map[string][]Edge)
}
