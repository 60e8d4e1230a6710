// Copyright 2025 Kylix Project
//
// Query Plan - Typed lowering of the restricted SPARQL surface
//
// Every variable symbol is normalized to a single Var representation
// before execution.

package plan

// Term is one position of a triple pattern: either a bound literal or a
// variable reference.
type Term struct {
	IsVariable bool
	Value      string // literal value, or variable name without '?'
}

// Var constructs a variable term.
func Var(name string) Term { return Term{IsVariable: true, Value: name} }

// Lit constructs a literal (concrete) term.
func Lit(value string) Term { return Term{IsVariable: false, Value: value} }

// TriplePattern is one WHERE-clause triple pattern.
type TriplePattern struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// FilterOp is a comparison operator recognized by the FILTER grammar.
type FilterOp string

const (
	OpEq FilterOp = "eq"
	OpNe FilterOp = "ne"
	OpGt FilterOp = "gt"
	OpLt FilterOp = "lt"
)

// Literal is a typed FILTER literal: string, int, or bool.
type Literal struct {
	Kind LiteralKind
	Str  string
	Int  int64
	Bool bool
}

type LiteralKind int

const (
	LiteralString LiteralKind = iota
	LiteralInt
	LiteralBool
)

// Filter is a tagged FILTER predicate, represented as a variant so the
// executor never re-parses filter text.
type Filter struct {
	Op       FilterOp
	Variable string
	Value    Literal
}

// PatternFilter binds a Filter to the index of the pattern it was parsed
// alongside, for filters that apply as soon as that pattern's bindings are
// produced (an optimization hint the executor may use, but filters are
// also safe to apply at the top level).
type PatternFilter struct {
	PatternIndex int
	Filter       Filter
}

// AggregateFunc names one of the recognized SPARQL aggregate functions.
type AggregateFunc string

const (
	AggCount       AggregateFunc = "COUNT"
	AggSum         AggregateFunc = "SUM"
	AggAvg         AggregateFunc = "AVG"
	AggMin         AggregateFunc = "MIN"
	AggMax         AggregateFunc = "MAX"
	AggGroupConcat AggregateFunc = "GROUP_CONCAT"
)

// Aggregate is one SELECT-list aggregate expression.
type Aggregate struct {
	Fn       AggregateFunc
	Variable string // "" for COUNT(*)
	Alias    string
	IsStar   bool
}

// OrderTerm is one ORDER BY clause entry.
type OrderTerm struct {
	Variable   string
	Descending bool
}

// Plan is the full typed lowering of a query.
type Plan struct {
	Patterns          []TriplePattern
	PatternFilters    []PatternFilter
	Filters           []Filter
	Optionals         []TriplePattern
	Unions            [][]TriplePattern
	Variables         []string // requested SELECT variables; empty when SelectStar is set
	SelectStar        bool
	GroupBy           []string
	Having            []Filter
	OrderBy           []OrderTerm
	Aggregates        []Aggregate
	HasAggregates     bool
	Limit             *int
	Offset            *int
	VariablePositions map[string]string // var -> "s"|"p"|"o"
}
