// Copyright 2025 Kylix Project
//
// End-to-end tests chaining the SPARQL parser, executor, and mapper
// against a populated DAG store

package sparql_test

import (
	"testing"

	"github.com/anusornc/kylix/pkg/dagstore"
	"github.com/anusornc/kylix/pkg/sparql/exec"
	"github.com/anusornc/kylix/pkg/sparql/mapper"
	"github.com/anusornc/kylix/pkg/sparql/parser"
)

func populatedStore(t *testing.T) dagstore.Store {
	t.Helper()
	s := dagstore.NewMemoryStore()
	add := func(id, subj, pred, obj, validator string) {
		if err := s.AddNode(id, &dagstore.NodeRecord{
			Subject: subj, Predicate: pred, Object: obj, Validator: validator,
		}); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	add("tx0", "Alice", "knows", "Bob", "agent1")
	add("tx1", "Alice", "likes", "Coffee", "agent1")
	add("tx2", "Bob", "knows", "Charlie", "agent2")
	add("tx3", "entity:e1", "prov:wasGeneratedBy", "activity:a1", "agent1")
	return s
}

func run(t *testing.T, store dagstore.Store, query string) []map[string]mapper.ProjectedValue {
	t.Helper()
	pl, err := parser.Parse(query)
	if err != nil {
		t.Fatalf("Parse(%q): %v", query, err)
	}
	rows, err := exec.Execute(pl, store)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	proj := mapper.NewProjector(pl)
	out := make([]map[string]mapper.ProjectedValue, len(rows))
	for i, r := range rows {
		out[i] = proj.Project(r)
	}
	return out
}

func TestSimpleTriplePatternQuery(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT ?x WHERE { ?x "knows" ?y . }`)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	seen := map[string]bool{}
	for _, r := range rows {
		seen[r["x"].Value] = true
	}
	if !seen["Alice"] || !seen["Bob"] {
		t.Fatalf("expected Alice and Bob, got %+v", rows)
	}
}

func TestJoinAcrossSharedVariable(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT ?a ?b WHERE { ?a "knows" ?b . ?b "knows" ?c . }`)
	if len(rows) != 1 {
		t.Fatalf("expected 1 joined row, got %d: %+v", len(rows), rows)
	}
	if rows[0]["a"].Value != "Alice" || rows[0]["b"].Value != "Bob" {
		t.Fatalf("unexpected join result: %+v", rows[0])
	}
}

func TestFilterNumeric(t *testing.T) {
	store := dagstore.NewMemoryStore()
	for i, age := range []string{"20", "30", "40"} {
		id := []string{"tx0", "tx1", "tx2"}[i]
		if err := store.AddNode(id, &dagstore.NodeRecord{Subject: "p" + age, Predicate: "age", Object: age}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	rows := run(t, store, `SELECT ?p ?age WHERE { ?p "age" ?age . FILTER(?age > 25) }`)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows with age > 25, got %d: %+v", len(rows), rows)
	}
}

func TestOptionalLeavesUnboundWhenNoMatch(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT ?x ?y ?z WHERE { ?x "likes" ?y . OPTIONAL { ?x "hates" ?z . } }`)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(rows), rows)
	}
	if rows[0]["z"].Bound {
		t.Fatalf("expected ?z unbound when the optional pattern has no match, got %+v", rows[0]["z"])
	}
}

func TestUnionConcatenatesBranches(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT ?x WHERE { { ?x "knows" "Bob" } UNION { ?x "likes" "Coffee" } }`)
	if len(rows) != 2 {
		t.Fatalf("expected 2 union rows, got %d: %+v", len(rows), rows)
	}
}

func TestAggregateCount(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT (COUNT(*) AS ?n) WHERE { ?x "knows" ?y . }`)
	if len(rows) != 1 {
		t.Fatalf("expected 1 aggregate row, got %d", len(rows))
	}
	if rows[0]["n"].Value != "2" {
		t.Fatalf("expected count 2, got %q", rows[0]["n"].Value)
	}
}

func TestOrderByLimit(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT ?x ?y WHERE { ?x "knows" ?y . } ORDER BY DESC ?x LIMIT 1`)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after LIMIT 1, got %d", len(rows))
	}
	if rows[0]["x"].Value != "Bob" {
		t.Fatalf("expected Bob to sort first descending, got %q", rows[0]["x"].Value)
	}
}

func TestProvORoleMapping(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT ?entity ?activity WHERE { ?e "prov:wasGeneratedBy" ?a . }`)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(rows), rows)
	}
	if rows[0]["entity"].Value != "entity:e1" {
		t.Fatalf("expected entity role to resolve to entity:e1, got %+v", rows[0]["entity"])
	}
	if rows[0]["activity"].Value != "activity:a1" {
		t.Fatalf("expected activity role to resolve to activity:a1, got %+v", rows[0]["activity"])
	}
}

func TestSelectStarProjectsEveryBoundVariable(t *testing.T) {
	store := populatedStore(t)
	rows := run(t, store, `SELECT * WHERE { ?x "knows" ?y . }`)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if _, ok := r["x"]; !ok {
			t.Fatalf("SELECT * should bind ?x: %+v", r)
		}
		if _, ok := r["y"]; !ok {
			t.Fatalf("SELECT * should bind ?y: %+v", r)
		}
	}
}
