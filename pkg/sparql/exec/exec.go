// Copyright 2025 Kylix Project
//
// SPARQL Executor - Evaluates a query plan against the DAG store
//
// Seeds bindings from the first triple pattern, natural-joins the rest on
// shared variables, then applies OPTIONAL, UNION, FILTER, aggregation,
// ordering, and offset/limit.

package exec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anusornc/kylix/pkg/dagstore"
	"github.com/anusornc/kylix/pkg/sparql/plan"
)

// Binding maps a variable name (without '?') to its bound string value.
// Alongside user variables, each pattern match also records the canonical
// triple positions and node metadata under the namespaced keys below.
type Binding map[string]string

// Namespaced keys for the canonical positions and node metadata carried
// in every binding. The "__" prefix keeps them from colliding with a user
// variable that happens to be named "s" or "validator".
const (
	KeySubject   = "__s"
	KeyPredicate = "__p"
	KeyObject    = "__o"
	KeyValidator = "__validator"
	KeyTimestamp = "__timestamp"
)

// Row is one output row: a binding plus whatever positional metadata the
// mapper needs to project it.
type Row struct {
	Binding Binding
}

// Execute runs pl against store and returns the final, ordered,
// limited/offset rows ready for projection.
func Execute(pl *plan.Plan, store dagstore.Store) ([]Row, error) {
	if len(pl.Patterns) == 0 && len(pl.Unions) == 0 && len(pl.Optionals) == 0 {
		return nil, fmt.Errorf("query has no triple patterns")
	}

	rows := []Binding{{}}
	for _, tp := range pl.Patterns {
		var err error
		rows, err = joinPattern(rows, tp, store)
		if err != nil {
			return nil, fmt.Errorf("join pattern %+v: %w", tp, err)
		}
		if len(rows) == 0 {
			break
		}
	}

	rows, err := applyOptional(rows, pl.Optionals, store)
	if err != nil {
		return nil, fmt.Errorf("apply optional: %w", err)
	}

	rows, err = applyUnion(rows, pl.Unions, store)
	if err != nil {
		return nil, fmt.Errorf("apply union: %w", err)
	}

	rows = applyFilters(rows, pl.Filters)
	for _, pf := range pl.PatternFilters {
		rows = applyFilters(rows, []plan.Filter{pf.Filter})
	}

	if pl.HasAggregates || len(pl.GroupBy) > 0 {
		rows = aggregate(rows, pl)
		rows = applyFilters(rows, pl.Having)
	}

	rows = orderRows(rows, pl.OrderBy)
	rows = applyOffsetLimit(rows, pl.Offset, pl.Limit)

	out := make([]Row, len(rows))
	for i, b := range rows {
		out[i] = Row{Binding: b}
	}
	return out, nil
}

// joinPattern extends every existing binding with every way tp can match
// the store, consistent with any variables tp shares with that binding
// (a natural join on shared variable names).
func joinPattern(existing []Binding, tp plan.TriplePattern, store dagstore.Store) ([]Binding, error) {
	var out []Binding
	for _, b := range existing {
		pat := buildPattern(tp, b)
		results, err := store.Query(pat)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if nb, ok := extendBinding(b, tp, r.Data); ok {
				out = append(out, nb)
			}
		}
	}
	return out, nil
}

// buildPattern substitutes tp's variables with their bound values from b,
// leaving unbound variables as wildcards.
func buildPattern(tp plan.TriplePattern, b Binding) dagstore.Pattern {
	return dagstore.Pattern{
		Subject:   termPtr(tp.Subject, b),
		Predicate: termPtr(tp.Predicate, b),
		Object:    termPtr(tp.Object, b),
	}
}

func termPtr(t plan.Term, b Binding) *string {
	if !t.IsVariable {
		v := t.Value
		return &v
	}
	if v, ok := b[t.Value]; ok {
		return &v
	}
	return nil
}

// extendBinding merges rec's subject/predicate/object into b according to
// tp's variable positions, failing if a variable already bound in b (or
// repeated within tp itself) disagrees with rec's value.
func extendBinding(b Binding, tp plan.TriplePattern, rec *dagstore.NodeRecord) (Binding, bool) {
	nb := make(Binding, len(b)+3)
	for k, v := range b {
		nb[k] = v
	}

	assign := func(t plan.Term, value string) bool {
		if !t.IsVariable {
			return t.Value == value
		}
		if existing, ok := nb[t.Value]; ok {
			return existing == value
		}
		nb[t.Value] = value
		return true
	}

	if !assign(tp.Subject, rec.Subject) {
		return nil, false
	}
	if !assign(tp.Predicate, rec.Predicate) {
		return nil, false
	}
	if !assign(tp.Object, rec.Object) {
		return nil, false
	}

	// Only user-variable identity decides join compatibility, so these
	// are overwritten by whichever pattern matched last rather than
	// joined on.
	nb[KeySubject] = rec.Subject
	nb[KeyPredicate] = rec.Predicate
	nb[KeyObject] = rec.Object
	nb[KeyValidator] = rec.Validator
	nb[KeyTimestamp] = rec.Timestamp.UTC().Format(time.RFC3339Nano)

	return nb, true
}

// applyOptional left-outer-joins the flattened OPTIONAL pattern group onto
// rows: a row that matches keeps every extension; a row with no match is
// kept unmodified, leaving its optional variables unbound.
func applyOptional(rows []Binding, patterns []plan.TriplePattern, store dagstore.Store) ([]Binding, error) {
	if len(patterns) == 0 {
		return rows, nil
	}

	var out []Binding
	for _, b := range rows {
		cur := []Binding{b}
		for _, tp := range patterns {
			var err error
			cur, err = joinPattern(cur, tp, store)
			if err != nil {
				return nil, err
			}
			if len(cur) == 0 {
				break
			}
		}
		if len(cur) == 0 {
			out = append(out, b)
		} else {
			out = append(out, cur...)
		}
	}
	return out, nil
}

// applyUnion evaluates each UNION branch against rows independently and
// concatenates the results (bag semantics). An empty Unions list is a
// no-op.
func applyUnion(rows []Binding, branches [][]plan.TriplePattern, store dagstore.Store) ([]Binding, error) {
	if len(branches) == 0 {
		return rows, nil
	}

	var out []Binding
	for _, branch := range branches {
		cur := append([]Binding(nil), rows...)
		for _, tp := range branch {
			var err error
			cur, err = joinPattern(cur, tp, store)
			if err != nil {
				return nil, err
			}
			if len(cur) == 0 {
				break
			}
		}
		out = append(out, cur...)
	}
	return out, nil
}

func applyFilters(rows []Binding, filters []plan.Filter) []Binding {
	if len(filters) == 0 {
		return rows
	}
	var out []Binding
	for _, b := range rows {
		keep := true
		for _, f := range filters {
			v, ok := b[f.Variable]
			if !ok || !matchFilter(v, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, b)
		}
	}
	return out
}

// matchFilter evaluates one comparison, coercing the bound string value to
// the filter literal's declared type. A value that doesn't coerce (e.g. a
// non-numeric string compared against an int literal) fails the filter
// rather than erroring.
func matchFilter(value string, f plan.Filter) bool {
	switch f.Value.Kind {
	case plan.LiteralInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		switch f.Op {
		case plan.OpEq:
			return n == f.Value.Int
		case plan.OpNe:
			return n != f.Value.Int
		case plan.OpGt:
			return n > f.Value.Int
		case plan.OpLt:
			return n < f.Value.Int
		}
	case plan.LiteralBool:
		bv, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		switch f.Op {
		case plan.OpEq:
			return bv == f.Value.Bool
		case plan.OpNe:
			return bv != f.Value.Bool
		}
		return false
	default:
		switch f.Op {
		case plan.OpEq:
			return value == f.Value.Str
		case plan.OpNe:
			return value != f.Value.Str
		case plan.OpGt:
			return value > f.Value.Str
		case plan.OpLt:
			return value < f.Value.Str
		}
	}
	return false
}

// aggregate groups rows by pl.GroupBy (the whole set is one group if empty)
// and computes one output row per group holding the group-by values plus
// each aggregate's alias.
func aggregate(rows []Binding, pl *plan.Plan) []Binding {
	type group struct {
		key    string
		sample Binding
		rows   []Binding
	}

	order := make([]string, 0)
	groups := make(map[string]*group)
	for _, b := range rows {
		var keyParts []string
		for _, v := range pl.GroupBy {
			keyParts = append(keyParts, b[v])
		}
		key := strings.Join(keyParts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, sample: b}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, b)
	}

	if len(groups) == 0 && len(pl.GroupBy) == 0 {
		groups[""] = &group{rows: rows}
		order = append(order, "")
	}

	out := make([]Binding, 0, len(order))
	for _, key := range order {
		g := groups[key]
		nb := make(Binding)
		for _, v := range pl.GroupBy {
			nb[v] = g.sample[v]
		}
		for _, agg := range pl.Aggregates {
			nb[agg.Alias] = computeAggregate(agg, g.rows)
		}
		out = append(out, nb)
	}
	return out
}

func computeAggregate(agg plan.Aggregate, rows []Binding) string {
	switch agg.Fn {
	case plan.AggCount:
		if agg.IsStar {
			return strconv.Itoa(len(rows))
		}
		n := 0
		for _, b := range rows {
			if _, ok := b[agg.Variable]; ok {
				n++
			}
		}
		return strconv.Itoa(n)

	case plan.AggSum, plan.AggAvg:
		var sum float64
		var n int
		for _, b := range rows {
			if v, ok := b[agg.Variable]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					sum += f
					n++
				}
			}
		}
		if agg.Fn == plan.AggSum {
			return formatFloat(sum)
		}
		if n == 0 {
			return "0"
		}
		return formatFloat(sum / float64(n))

	case plan.AggMin, plan.AggMax:
		var best string
		var set bool
		for _, b := range rows {
			v, ok := b[agg.Variable]
			if !ok {
				continue
			}
			if !set {
				best, set = v, true
				continue
			}
			if compareValues(v, best) < 0 && agg.Fn == plan.AggMin {
				best = v
			} else if compareValues(v, best) > 0 && agg.Fn == plan.AggMax {
				best = v
			}
		}
		return best

	case plan.AggGroupConcat:
		var parts []string
		for _, b := range rows {
			if v, ok := b[agg.Variable]; ok {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// compareValues orders two bound values numerically if both coerce to a
// number, falling back to lexicographic order otherwise.
func compareValues(a, b string) int {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// orderRows stable-sorts by pl.OrderBy. A row missing an order variable
// sorts after every row that has it, regardless of direction ("nulls
// last").
func orderRows(rows []Binding, terms []plan.OrderTerm) []Binding {
	if len(terms) == 0 {
		return rows
	}
	out := append([]Binding(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, t := range terms {
			vi, iok := out[i][t.Variable]
			vj, jok := out[j][t.Variable]
			if !iok && !jok {
				continue
			}
			if !iok {
				return false
			}
			if !jok {
				return true
			}
			c := compareValues(vi, vj)
			if c == 0 {
				continue
			}
			if t.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

func applyOffsetLimit(rows []Binding, offset, limit *int) []Binding {
	if offset != nil && *offset > 0 {
		if *offset >= len(rows) {
			return nil
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit >= 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}
