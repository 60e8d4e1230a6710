// Copyright 2025 Kylix Project
//
// Unit tests for the blockchain server admission pipeline

package chainserver

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/anusornc/kylix/pkg/dagstore"
	"github.com/anusornc/kylix/pkg/errs"
	"github.com/anusornc/kylix/pkg/hashsig"
	"github.com/anusornc/kylix/pkg/validators"
)

// harness wires a fresh in-memory server with two validators, agent1 and
// agent2, each with its own keypair. The server's clock is pinned so
// tests can sign a digest before calling AddTransaction and know it will
// match the timestamp assigned internally.
type harness struct {
	server *Server
	coord  *validators.Coordinator
	priv   map[string]ed25519.PrivateKey
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	coord := validators.NewCoordinator(validators.Config{ConfigDir: t.TempDir(), WindowSize: 100})

	h := &harness{
		coord: coord,
		priv:  map[string]ed25519.PrivateKey{},
		clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, id := range []string{"agent1", "agent2"} {
		pub, priv, err := hashsig.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		if err := coord.Seed(id, pub); err != nil {
			t.Fatalf("Seed(%s): %v", id, err)
		}
		h.priv[id] = priv
	}

	h.server = New(dagstore.NewMemoryStore(), coord)
	h.server.now = func() time.Time { return h.clock }
	return h
}

// sign builds the signature AddTransaction will accept for (s,p,o,v) at
// the harness's pinned clock time. The clock is left untouched so the
// digest signed here matches the timestamp the pipeline assigns.
func (h *harness) sign(validatorID, subject, predicate, object string) []byte {
	digest := hashsig.Hash(subject, predicate, object, validatorID, h.clock)
	return hashsig.Sign(digest[:], h.priv[validatorID])
}

// add signs and admits one transaction, failing the test on error. The
// clock advances after the admission so the next transaction gets a
// distinct timestamp (and therefore a distinct hash).
func (h *harness) add(t *testing.T, validatorID, s, p, o string) string {
	t.Helper()
	sig := h.sign(validatorID, s, p, o)
	id, err := h.server.AddTransaction(s, p, o, validatorID, sig)
	if err != nil {
		t.Fatalf("AddTransaction(%s,%s,%s,%s): %v", s, p, o, validatorID, err)
	}
	h.clock = h.clock.Add(time.Second)
	return id
}

func TestAddTransactionBasic(t *testing.T) {
	h := newHarness(t)

	id := h.add(t, "agent1", "Alice", "owns", "Car123")
	if id != "tx0" {
		t.Fatalf("expected tx0, got %s", id)
	}

	results, err := h.server.Query(dagstore.Pattern{
		Subject:   dagstore.Wildcard("Alice"),
		Predicate: dagstore.Wildcard("owns"),
		Object:    dagstore.Wildcard("Car123"),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "tx0" {
		t.Fatalf("expected one row tx0, got %+v", results)
	}
}

func TestAddTransactionShapeValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		s, p, o string
		want    error
	}{
		{"", "p", "o", errs.ErrInvalidSubject},
		{"s", "", "o", errs.ErrInvalidPredicate},
		{"s", "p", "", errs.ErrInvalidObject},
	}
	for _, tc := range cases {
		sig := h.sign("agent1", tc.s, tc.p, tc.o)
		if _, err := h.server.AddTransaction(tc.s, tc.p, tc.o, "agent1", sig); !errors.Is(err, tc.want) {
			t.Fatalf("(%q,%q,%q): expected %v, got %v", tc.s, tc.p, tc.o, tc.want, err)
		}
	}
}

func TestAddTransactionUnknownValidator(t *testing.T) {
	h := newHarness(t)
	sig := h.sign("agent1", "s", "p", "o")
	if _, err := h.server.AddTransaction("s", "p", "o", "ghost", sig); !errors.Is(err, errs.ErrUnknownValidator) {
		t.Fatalf("expected ErrUnknownValidator, got %v", err)
	}
}

func TestAddTransactionProvOShapeViolation(t *testing.T) {
	h := newHarness(t)
	sig := h.sign("agent1", "activity:a1", "prov:wasGeneratedBy", "entity:e1")

	_, err := h.server.AddTransaction("activity:a1", "prov:wasGeneratedBy", "entity:e1", "agent1", sig)
	if !errors.Is(err, errs.ErrInvalidProvenanceRelationship) {
		t.Fatalf("expected ErrInvalidProvenanceRelationship, got %v", err)
	}
}

func TestAddTransactionInvalidSignature(t *testing.T) {
	h := newHarness(t)
	if _, err := h.server.AddTransaction("s", "p", "o", "agent1", []byte("not-a-signature")); err == nil {
		t.Fatal("expected an error for a malformed signature")
	}
}

func TestAddTransactionDuplicateRejected(t *testing.T) {
	h := newHarness(t)
	sig := h.sign("agent1", "Alice", "owns", "Car123")

	// The clock stays pinned, so the replay hashes to the same digest.
	if _, err := h.server.AddTransaction("Alice", "owns", "Car123", "agent1", sig); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := h.server.AddTransaction("Alice", "owns", "Car123", "agent1", sig); !errors.Is(err, errs.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestChainLinkage(t *testing.T) {
	h := newHarness(t)

	id0 := h.add(t, "agent1", "Alice", "owns", "Car123")
	id1 := h.add(t, "agent2", "Alice", "drives", "Car123")
	id2 := h.add(t, "agent1", "Bob", "manufactures", "Car123")

	results, err := h.server.Query(dagstore.Pattern{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	edges := map[string][]dagstore.Edge{}
	for _, r := range results {
		edges[r.ID] = r.OutgoingEdges
	}

	if !hasEdge(edges[id0], id0, id1, "confirms") {
		t.Fatalf("missing edge %s -> %s: %+v", id0, id1, edges[id0])
	}
	if !hasEdge(edges[id1], id1, id2, "confirms") {
		t.Fatalf("missing edge %s -> %s: %+v", id1, id2, edges[id1])
	}
}

func hasEdge(edges []dagstore.Edge, from, to, label string) bool {
	for _, e := range edges {
		if e.From == from && e.To == to && e.Label == label {
			return true
		}
	}
	return false
}

func TestQueryWildcards(t *testing.T) {
	h := newHarness(t)
	h.add(t, "agent1", "Alice", "knows", "Bob")
	h.add(t, "agent1", "Alice", "likes", "Coffee")
	h.add(t, "agent1", "Bob", "knows", "Charlie")

	knows, err := h.server.Query(dagstore.Pattern{Predicate: dagstore.Wildcard("knows")})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(knows) != 2 {
		t.Fatalf("expected 2 rows for predicate=knows, got %d", len(knows))
	}

	alice, err := h.server.Query(dagstore.Pattern{Subject: dagstore.Wildcard("Alice")})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("expected 2 rows for subject=Alice, got %d", len(alice))
	}

	none, err := h.server.Query(dagstore.Pattern{Subject: dagstore.Wildcard("Unknown")})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected 0 rows for subject=Unknown, got %d", len(none))
	}
}

func TestResetTxCount(t *testing.T) {
	h := newHarness(t)
	h.add(t, "agent1", "s", "p", "o")

	h.server.Store().ClearAll()
	h.server.ResetTxCount(0)

	id := h.add(t, "agent1", "s2", "p2", "o2")
	if id != "tx0" {
		t.Fatalf("expected tx0 after reset, got %s", id)
	}
}

func TestGetTestKeyPair(t *testing.T) {
	h := newHarness(t)
	pub, priv := h.server.GetTestKeyPair()
	if len(pub) != ed25519.PublicKeySize || len(priv) != ed25519.PrivateKeySize {
		t.Fatal("GetTestKeyPair returned malformed key sizes")
	}
}
