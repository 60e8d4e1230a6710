// Copyright 2025 Kylix Project
//
// Variable Mapper - Resolves SELECT-list output names to bound values
//
// Six fallback steps, tried in order: direct binding, PROV-O role alias,
// aggregate alias, pattern-derived position, positional synonym, null.

package mapper

import (
	"sort"
	"strings"

	"github.com/anusornc/kylix/pkg/provo"
	"github.com/anusornc/kylix/pkg/sparql/exec"
	"github.com/anusornc/kylix/pkg/sparql/plan"
)

// positionSynonyms lists the literal names that fall back to a triple
// position when nothing more specific resolves them.
var positionSynonyms = map[string]string{
	"s": "s", "subject": "s", "person": "s",
	"p": "p", "predicate": "p", "relation": "p",
	"o": "o", "object": "o", "target": "o", "friend": "o",
}

// metadataSynonyms maps output names to the namespaced node-metadata keys
// the executor records on every binding.
var metadataSynonyms = map[string]string{
	"validator": exec.KeyValidator,
	"timestamp": exec.KeyTimestamp,
}

// patternRole records the pattern variable (or literal) that fills one
// PROV-O role position, precomputed once per plan so Project doesn't
// rescan patterns per output name.
type patternRole struct {
	variable  string // "" if the position is a literal, not a variable
	literal   string
	isLiteral bool
}

// Projector precomputes the lookups Project needs so repeated calls over a
// plan's result rows don't rebuild them per row.
type Projector struct {
	pl *plan.Plan

	// provoAlias maps a PROV-O role alias (e.g. "entity", "activity") to
	// the pattern position (subject or object term) that fills it, for
	// every pattern whose predicate is a recognized literal PROV-O verb.
	provoAlias map[string]patternRole

	// positionVar maps "s"/"p"/"o" to the first pattern variable found at
	// that position, for the positional-default fallback.
	positionVar map[string]string
}

// NewProjector analyzes pl once, ahead of projecting any rows.
func NewProjector(pl *plan.Plan) *Projector {
	pr := &Projector{
		pl:          pl,
		provoAlias:  map[string]patternRole{},
		positionVar: map[string]string{},
	}

	for _, tp := range pl.Patterns {
		if !tp.Predicate.IsVariable {
			if rel, ok := provo.Lookup(tp.Predicate.Value); ok {
				pr.provoAlias[rel.SubjectVar] = termRole(tp.Subject)
				pr.provoAlias[rel.ObjectVar] = termRole(tp.Object)
			}
		}
		if tp.Subject.IsVariable {
			if _, exists := pr.positionVar["s"]; !exists {
				pr.positionVar["s"] = tp.Subject.Value
			}
		}
		if tp.Predicate.IsVariable {
			if _, exists := pr.positionVar["p"]; !exists {
				pr.positionVar["p"] = tp.Predicate.Value
			}
		}
		if tp.Object.IsVariable {
			if _, exists := pr.positionVar["o"]; !exists {
				pr.positionVar["o"] = tp.Object.Value
			}
		}
	}

	return pr
}

func termRole(t plan.Term) patternRole {
	if t.IsVariable {
		return patternRole{variable: t.Value}
	}
	return patternRole{literal: t.Value, isLiteral: true}
}

// Project resolves every requested output name against row, applying the
// six fallback steps in order and stopping at the first that resolves.
// Names that resolve to nothing map to "" with Bound=false.
func (pr *Projector) Project(row exec.Row) map[string]ProjectedValue {
	names := pr.pl.Variables
	if pr.pl.SelectStar {
		names = pr.allBoundNames(row)
	}

	out := make(map[string]ProjectedValue, len(names))
	for _, name := range names {
		out[name] = pr.resolve(name, row)
	}
	return out
}

// ProjectedValue is one output cell: either a bound value, or an explicit
// "unresolved" marker.
type ProjectedValue struct {
	Value string
	Bound bool
}

func (pr *Projector) resolve(name string, row exec.Row) ProjectedValue {
	// Step 1: direct binding.
	if v, ok := row.Binding[name]; ok {
		return ProjectedValue{Value: v, Bound: true}
	}

	// Step 2: PROV-O role map.
	if role, ok := pr.provoAlias[name]; ok {
		if role.isLiteral {
			return ProjectedValue{Value: role.literal, Bound: true}
		}
		if v, ok := row.Binding[role.variable]; ok {
			return ProjectedValue{Value: v, Bound: true}
		}
	}

	// Step 3: aggregate alias. Aggregate results are written into the
	// binding under their alias by pkg/sparql/exec, so step 1 resolves
	// them whenever the row carries the alias; a row without it resolves
	// the alias to null here, before the positional fallbacks below.
	for _, agg := range pr.pl.Aggregates {
		if agg.Alias == name {
			return ProjectedValue{}
		}
	}

	// Step 4: variable_positions (the pattern-derived position of this
	// exact name, if it was ever bound as a pattern variable elsewhere).
	if pos, ok := pr.pl.VariablePositions[name]; ok {
		if v, ok := pr.fromPosition(pos, row); ok {
			return ProjectedValue{Value: v, Bound: true}
		}
	}

	// Step 5: positional defaults via the fixed synonym table, plus the
	// node-metadata fields every match carries.
	if pos, ok := positionSynonyms[name]; ok {
		if v, ok := pr.fromPosition(pos, row); ok {
			return ProjectedValue{Value: v, Bound: true}
		}
	}
	if key, ok := metadataSynonyms[name]; ok {
		if v, ok := row.Binding[key]; ok {
			return ProjectedValue{Value: v, Bound: true}
		}
	}

	// Step 6: null.
	return ProjectedValue{}
}

func (pr *Projector) fromPosition(pos string, row exec.Row) (string, bool) {
	if v, ok := pr.positionVar[pos]; ok {
		if val, ok := row.Binding[v]; ok {
			return val, true
		}
	}
	// Bindings also carry the canonical positions under namespaced keys.
	val, ok := row.Binding["__"+pos]
	return val, ok
}

func (pr *Projector) allBoundNames(row exec.Row) []string {
	names := make([]string, 0, len(row.Binding))
	for k := range row.Binding {
		if strings.HasPrefix(k, "__") {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
