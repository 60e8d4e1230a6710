// Copyright 2025 Kylix Project
//
// Persistent DAG store variant - file-per-record on-disk layout with
// crash recovery
//
// A node is committed iff its file exists on disk; the metadata file is
// best-effort and recovery rescans nodes/ on demand.

package dagstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anusornc/kylix/pkg/errs"
)

// warmCacheSize bounds how many of the most recent nodes/edges are loaded
// into memory at startup; the rest stay lazily loadable from disk.
const warmCacheSize = 100

// Metadata is the on-disk summary record at <db>/metadata.bin.
type Metadata struct {
	LastNodeID     string
	NodeCount      int
	EdgeCount      int
	LastCheckpoint time.Time
}

// PersistentStore is the file-backed DAG store variant. Writes are
// serialize -> write file -> update cache -> update metadata file, and a
// node is considered committed iff its file exists on disk. The metadata
// file is best-effort: recovery tolerates a stale counter by rescanning
// nodes/ on demand.
type PersistentStore struct {
	mu       sync.RWMutex
	dbPath   string
	nodesDir string
	edgesDir string
	cache    *MemoryStore
	meta     Metadata
	logger   *log.Logger
}

// OpenPersistentStore creates (if missing) the nodes/ and edges/
// subdirectories under dbPath, loads or initializes metadata, and warms
// the cache with a bounded prefix of the most recently written records.
func OpenPersistentStore(dbPath string) (*PersistentStore, error) {
	s := &PersistentStore{
		dbPath:   dbPath,
		nodesDir: filepath.Join(dbPath, "nodes"),
		edgesDir: filepath.Join(dbPath, "edges"),
		cache:    NewMemoryStore(),
		logger:   log.New(os.Stderr, "dagstore(persistent): ", log.LstdFlags),
	}
	if err := os.MkdirAll(s.nodesDir, 0o700); err != nil {
		return nil, fmt.Errorf("create nodes dir: %w", err)
	}
	if err := os.MkdirAll(s.edgesDir, 0o700); err != nil {
		return nil, fmt.Errorf("create edges dir: %w", err)
	}

	if err := s.loadMetadata(); err != nil {
		s.logger.Printf("metadata load failed, starting from zero counters: %v", err)
		s.meta = Metadata{}
	}

	if err := s.warmCache(); err != nil {
		return nil, fmt.Errorf("warm cache: %w", err)
	}

	return s, nil
}

func (s *PersistentStore) metadataPath() string {
	return filepath.Join(s.dbPath, "metadata.bin")
}

func (s *PersistentStore) loadMetadata() error {
	raw, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.meta = Metadata{}
			return nil
		}
		return err
	}
	var m Metadata
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	s.meta = m
	return nil
}

// saveMetadata writes metadata.bin best-effort; failures are logged, not
// propagated, since recovery never trusts the metadata counters anyway.
func (s *PersistentStore) saveMetadata() {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.meta); err != nil {
		s.logger.Printf("encode metadata: %v", err)
		return
	}
	if err := os.WriteFile(s.metadataPath(), buf.Bytes(), 0o600); err != nil {
		s.logger.Printf("write metadata: %v", err)
	}
}

// nodeIDNumber extracts the numeric suffix of a "tx{N}" id for recency
// ordering; ids that don't match the scheme report false, and warmCache
// ranks them as 0, alongside tx0.
func nodeIDNumber(id string) (int64, bool) {
	trimmed := strings.TrimPrefix(id, "tx")
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *PersistentStore) warmCache() error {
	entries, err := os.ReadDir(s.nodesDir)
	if err != nil {
		return fmt.Errorf("list nodes dir: %w", err)
	}

	type idNum struct {
		id  string
		num int64
	}
	var ids []idNum
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".bin")
		n, _ := nodeIDNumber(id)
		ids = append(ids, idNum{id: id, num: n})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].num > ids[j].num })
	if len(ids) > warmCacheSize {
		ids = ids[:warmCacheSize]
	}
	for _, item := range ids {
		rec, err := s.readNodeFile(item.id)
		if err != nil {
			s.logger.Printf("skip unreadable node file %s: %v", item.id, err)
			continue
		}
		s.cache.nodes[item.id] = rec
	}

	edgeEntries, err := os.ReadDir(s.edgesDir)
	if err != nil {
		return fmt.Errorf("list edges dir: %w", err)
	}
	// File-name order is not id order ("tx9_tx10" lists after
	// "tx99_tx100"), so order by source id before keeping the newest.
	sort.SliceStable(edgeEntries, func(i, j int) bool {
		ni, _ := nodeIDNumber(strings.SplitN(edgeEntries[i].Name(), "_", 2)[0])
		nj, _ := nodeIDNumber(strings.SplitN(edgeEntries[j].Name(), "_", 2)[0])
		return ni < nj
	})
	if len(edgeEntries) > warmCacheSize {
		edgeEntries = edgeEntries[len(edgeEntries)-warmCacheSize:]
	}
	for _, e := range edgeEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		edges, err := s.readEdgeFile(e.Name())
		if err != nil {
			s.logger.Printf("skip unreadable edge file %s: %v", e.Name(), err)
			continue
		}
		for _, edge := range edges {
			s.cache.edges[edge.From] = append(s.cache.edges[edge.From], edge)
		}
	}

	return nil
}

func (s *PersistentStore) nodeFilePath(id string) string {
	return filepath.Join(s.nodesDir, id+".bin")
}

func (s *PersistentStore) edgeFilePath(from, to string) string {
	return filepath.Join(s.edgesDir, from+"_"+to+".bin")
}

func (s *PersistentStore) readNodeFile(id string) (*NodeRecord, error) {
	raw, err := os.ReadFile(s.nodeFilePath(id))
	if err != nil {
		return nil, err
	}
	var rec NodeRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", id, err)
	}
	return &rec, nil
}

func (s *PersistentStore) readEdgeFile(name string) ([]Edge, error) {
	raw, err := os.ReadFile(filepath.Join(s.edgesDir, name))
	if err != nil {
		return nil, err
	}
	var edges []Edge
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&edges); err != nil {
		return nil, fmt.Errorf("decode edges %s: %w", name, err)
	}
	return edges, nil
}

// AddNode serializes data to <db>/nodes/<id>.bin, then updates the cache
// and metadata. A node is committed only once the file write returns.
func (s *PersistentStore) AddNode(id string, data *NodeRecord) error {
	if data == nil {
		return errs.ErrInvalidData
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(*data); err != nil {
		return fmt.Errorf("encode node %s: %w", id, err)
	}
	if err := os.WriteFile(s.nodeFilePath(id), buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write node file %s: %w", id, err)
	}

	s.cache.nodes[id] = data
	s.meta.LastNodeID = id
	s.meta.NodeCount++
	s.saveMetadata()
	return nil
}

// AddEdge requires both endpoints to resolve, either in cache or on disk,
// then appends the edge to the shared <from>_<to>.bin file (which may
// already hold other labels for the same endpoint pair).
func (s *PersistentStore) AddEdge(from, to, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nodeExistsLocked(from) {
		return fmt.Errorf("%w: edge source %s", errs.ErrNodeNotFound, from)
	}
	if !s.nodeExistsLocked(to) {
		return fmt.Errorf("%w: edge target %s", errs.ErrNodeNotFound, to)
	}

	existing, _ := s.readEdgeFile(filepath.Base(s.edgeFilePath(from, to)))
	edge := Edge{From: from, To: to, Label: label}
	existing = append(existing, edge)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(existing); err != nil {
		return fmt.Errorf("encode edges %s->%s: %w", from, to, err)
	}
	if err := os.WriteFile(s.edgeFilePath(from, to), buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write edge file %s->%s: %w", from, to, err)
	}

	s.cache.edges[from] = append(s.cache.edges[from], edge)
	s.meta.EdgeCount++
	s.saveMetadata()
	return nil
}

func (s *PersistentStore) nodeExistsLocked(id string) bool {
	if _, ok := s.cache.nodes[id]; ok {
		return true
	}
	_, err := os.Stat(s.nodeFilePath(id))
	return err == nil
}

// GetNode returns the cached record if present; otherwise reads from disk
// and populates the cache.
func (s *PersistentStore) GetNode(id string) (*NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.cache.nodes[id]; ok {
		return rec, nil
	}
	rec, err := s.readNodeFile(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read node %s: %w", id, err)
	}
	s.cache.nodes[id] = rec
	return rec, nil
}

// GetAllNodes unions the cache and the full on-disk node set.
func (s *PersistentStore) GetAllNodes() (map[string]*NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*NodeRecord, len(s.cache.nodes))
	for id, rec := range s.cache.nodes {
		out[id] = rec
	}

	entries, err := os.ReadDir(s.nodesDir)
	if err != nil {
		return nil, fmt.Errorf("list nodes dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".bin")
		if _, ok := out[id]; ok {
			continue
		}
		rec, err := s.readNodeFile(id)
		if err != nil {
			s.logger.Printf("skip unreadable node %s: %v", id, err)
			continue
		}
		out[id] = rec
		s.cache.nodes[id] = rec
	}
	return out, nil
}

// Query scans the full on-disk node set (populating the cache as it goes)
// and returns every match plus its outgoing edges.
func (s *PersistentStore) Query(pattern Pattern) ([]QueryResult, error) {
	all, err := s.GetAllNodes()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []QueryResult
	for id, rec := range all {
		if rec == nil || !pattern.matches(rec) {
			continue
		}
		edges := s.cache.edges[id]
		if edges == nil {
			edges = s.loadEdgesForLocked(id)
		}
		out = append(out, QueryResult{ID: id, Data: rec, OutgoingEdges: append([]Edge(nil), edges...)})
	}
	return out, nil
}

// loadEdgesForLocked scans the edges directory for files whose source
// endpoint is id; called with s.mu held.
func (s *PersistentStore) loadEdgesForLocked(id string) []Edge {
	prefix := id + "_"
	entries, err := os.ReadDir(s.edgesDir)
	if err != nil {
		return nil
	}
	var out []Edge
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		edges, err := s.readEdgeFile(e.Name())
		if err != nil {
			continue
		}
		out = append(out, edges...)
	}
	s.cache.edges[id] = out
	return out
}

// ClearAll drops the in-memory cache only; on-disk records are untouched.
// Test hook, matching the memory variant's semantics for the cache layer.
func (s *PersistentStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.ClearAll()
}

// Checkpoint updates last_checkpoint and flips metadata atomically: the
// new metadata is written to a temp file beside the old one, then renamed
// into place.
func (s *PersistentStore) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta.LastCheckpoint = time.Now().UTC()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.meta); err != nil {
		return fmt.Errorf("encode checkpoint metadata: %w", err)
	}
	tmp := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.metadataPath()); err != nil {
		return fmt.Errorf("flip checkpoint metadata: %w", err)
	}
	return nil
}

// Metadata returns a snapshot of the store's metadata record.
func (s *PersistentStore) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}
