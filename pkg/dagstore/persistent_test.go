// Copyright 2025 Kylix Project
//
// Unit tests for the persistent DAG store

package dagstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/anusornc/kylix/pkg/errs"
)

func TestPersistentStoreAddAndGetNode(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}

	rec := sampleRecord("entity:e1")
	if err := s.AddNode("tx0", rec); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	got, err := s.GetNode("tx0")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Subject != "entity:e1" {
		t.Fatalf("got subject %q, want entity:e1", got.Subject)
	}

	if _, err := s.GetNode("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistentStoreAddEdgeRequiresEndpoints(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}

	if err := s.AddNode("tx0", sampleRecord("entity:e1")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := s.AddEdge("tx0", "tx1", "confirms"); !errors.Is(err, errs.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}

	if err := s.AddNode("tx1", sampleRecord("entity:e2")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := s.AddEdge("tx0", "tx1", "confirms"); err != nil {
		t.Fatalf("AddEdge between existing nodes should succeed: %v", err)
	}
}

// TestPersistentStoreRecovery: after adding nodes and edges, reopening
// the store at the same db path must return the same records and edges.
func TestPersistentStoreRecovery(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	for i, subj := range []string{"entity:e1", "entity:e2", "entity:e3"} {
		rec := sampleRecord(subj)
		if err := s1.AddNode(idFor(i), rec); err != nil {
			t.Fatalf("AddNode %d: %v", i, err)
		}
	}
	if err := s1.AddEdge("tx0", "tx1", "confirms"); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := s1.AddEdge("tx1", "tx2", "confirms"); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	s2, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("reopen OpenPersistentStore: %v", err)
	}

	all, err := s2.GetAllNodes()
	if err != nil {
		t.Fatalf("GetAllNodes: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 recovered nodes, got %d", len(all))
	}

	results, err := s2.Query(Pattern{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(results))
	}
	var edges int
	for _, r := range results {
		edges += len(r.OutgoingEdges)
	}
	if edges != 2 {
		t.Fatalf("expected 2 edges recovered, got %d", edges)
	}
}

func TestPersistentStoreToleratesMissingMetadata(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	if err := s.AddNode("tx0", sampleRecord("entity:e1")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	// Remove metadata.bin to simulate a crash between the node write and
	// the best-effort metadata update; recovery must rescan nodes/.
	if err := os.Remove(filepath.Join(dir, "metadata.bin")); err != nil {
		t.Fatalf("remove metadata.bin: %v", err)
	}

	s2, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("reopen after stale metadata: %v", err)
	}
	if _, err := s2.GetNode("tx0"); err != nil {
		t.Fatalf("GetNode after stale metadata recovery: %v", err)
	}
}

func TestPersistentStoreCheckpointIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPersistentStore(dir)
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	if err := s.AddNode("tx0", sampleRecord("entity:e1")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if s.Metadata().LastCheckpoint.IsZero() {
		t.Fatal("expected LastCheckpoint to be set after Checkpoint")
	}
	if _, err := os.Stat(filepath.Join(dir, "metadata.bin.tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected the temp metadata file to be renamed into place, stat err = %v", err)
	}
}

func idFor(i int) string {
	return fmt.Sprintf("tx%d", i)
}
