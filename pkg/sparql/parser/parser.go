// Copyright 2025 Kylix Project
//
// SPARQL Parser - Recursive-descent lowering of query text into a typed
// plan

package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anusornc/kylix/pkg/sparql/plan"
)

// Parse lowers query text into a typed plan.Plan, or returns an error for
// anything outside the supported subset grammar.
func Parse(query string) (*plan.Plan, error) {
	toks, err := newLexer(query).tokenize()
	if err != nil {
		return nil, fmt.Errorf("lex query: %w", err)
	}
	p := &parserState{toks: toks}
	pl, err := p.parseQuery()
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return pl, nil
}

type parserState struct {
	toks []token
	pos  int
}

func (p *parserState) cur() token { return p.toks[p.pos] }

func (p *parserState) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parserState) kwIs(word string) bool {
	t := p.cur()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parserState) expectKw(word string) error {
	if !p.kwIs(word) {
		return fmt.Errorf("expected %q, got %q", word, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parserState) expect(kind tokenKind, what string) (token, error) {
	if p.cur().kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q", what, p.cur().text)
	}
	return p.advance(), nil
}

func (p *parserState) parseQuery() (*plan.Plan, error) {
	pl := &plan.Plan{VariablePositions: map[string]string{}}

	if err := p.expectKw("SELECT"); err != nil {
		return nil, err
	}
	if err := p.parseSelectList(pl); err != nil {
		return nil, err
	}
	if err := p.expectKw("WHERE"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	if err := p.parseGroupGraphPattern(pl); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}

	if p.kwIs("GROUP") {
		p.advance()
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		for p.cur().kind == tokVar {
			pl.GroupBy = append(pl.GroupBy, p.advance().text)
			if p.cur().kind == tokComma {
				p.advance()
			}
		}
	}

	if p.kwIs("HAVING") {
		p.advance()
		if _, err := p.expect(tokLParen, "'('"); err != nil {
			return nil, err
		}
		f, err := p.parseFilterExpr()
		if err != nil {
			return nil, err
		}
		pl.Having = append(pl.Having, f)
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
	}

	if p.kwIs("ORDER") {
		p.advance()
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		for p.cur().kind == tokVar || p.kwIs("ASC") || p.kwIs("DESC") {
			term, err := p.parseOrderTerm()
			if err != nil {
				return nil, err
			}
			pl.OrderBy = append(pl.OrderBy, term)
			if p.cur().kind == tokComma {
				p.advance()
			}
		}
	}

	if p.kwIs("LIMIT") {
		p.advance()
		n, err := p.parseIntToken()
		if err != nil {
			return nil, err
		}
		pl.Limit = &n
	}

	if p.kwIs("OFFSET") {
		p.advance()
		n, err := p.parseIntToken()
		if err != nil {
			return nil, err
		}
		pl.Offset = &n
	}

	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing token %q", p.cur().text)
	}

	pl.HasAggregates = len(pl.Aggregates) > 0
	return pl, nil
}

// parseOrderTerm accepts both the prefix form (ASC ?x, DESC(?x)) and the
// postfix form (?x DESC) for one ORDER BY entry.
func (p *parserState) parseOrderTerm() (plan.OrderTerm, error) {
	if p.kwIs("ASC") || p.kwIs("DESC") {
		desc := p.kwIs("DESC")
		p.advance()
		parens := p.cur().kind == tokLParen
		if parens {
			p.advance()
		}
		v, err := p.expect(tokVar, "order variable")
		if err != nil {
			return plan.OrderTerm{}, err
		}
		if parens {
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return plan.OrderTerm{}, err
			}
		}
		return plan.OrderTerm{Variable: v.text, Descending: desc}, nil
	}

	v, err := p.expect(tokVar, "order variable")
	if err != nil {
		return plan.OrderTerm{}, err
	}
	desc := false
	if p.kwIs("ASC") {
		p.advance()
	} else if p.kwIs("DESC") {
		p.advance()
		desc = true
	}
	return plan.OrderTerm{Variable: v.text, Descending: desc}, nil
}

func (p *parserState) parseIntToken() (int, error) {
	t, err := p.expect(tokNumber, "number")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", t.text, err)
	}
	return n, nil
}

var aggregateFuncs = map[string]plan.AggregateFunc{
	"COUNT":        plan.AggCount,
	"SUM":          plan.AggSum,
	"AVG":          plan.AggAvg,
	"MIN":          plan.AggMin,
	"MAX":          plan.AggMax,
	"GROUP_CONCAT": plan.AggGroupConcat,
}

func (p *parserState) parseSelectList(pl *plan.Plan) error {
	if p.cur().kind == tokStar {
		p.advance()
		pl.SelectStar = true
		return nil
	}

	for {
		switch {
		case p.cur().kind == tokVar:
			pl.Variables = append(pl.Variables, p.advance().text)

		case p.cur().kind == tokLParen:
			// Parenthesized aggregate: (COUNT(*) AS ?alias).
			p.advance()
			agg, err := p.parseAggregate()
			if err != nil {
				return err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return err
			}
			pl.Aggregates = append(pl.Aggregates, agg)
			pl.Variables = append(pl.Variables, agg.Alias)

		case p.cur().kind == tokIdent && !strings.EqualFold(p.cur().text, "WHERE"):
			agg, err := p.parseAggregate()
			if err != nil {
				return err
			}
			pl.Aggregates = append(pl.Aggregates, agg)
			pl.Variables = append(pl.Variables, agg.Alias)

		default:
			if len(pl.Variables) == 0 {
				return fmt.Errorf("unexpected token %q in SELECT list", p.cur().text)
			}
			return nil
		}

		if p.cur().kind == tokComma {
			p.advance()
		}
	}
}

// parseAggregate parses an aggregate call starting at its function name.
func (p *parserState) parseAggregate() (plan.Aggregate, error) {
	fn, ok := aggregateFuncs[strings.ToUpper(p.cur().text)]
	if !ok {
		return plan.Aggregate{}, fmt.Errorf("unexpected token %q in SELECT list", p.cur().text)
	}
	p.advance()
	return p.parseAggregateArgs(fn)
}

func (p *parserState) parseAggregateArgs(fn plan.AggregateFunc) (plan.Aggregate, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return plan.Aggregate{}, err
	}

	agg := plan.Aggregate{Fn: fn}
	if p.cur().kind == tokStar {
		p.advance()
		agg.IsStar = true
	} else {
		v, err := p.expect(tokVar, "variable")
		if err != nil {
			return plan.Aggregate{}, err
		}
		agg.Variable = v.text
	}

	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return plan.Aggregate{}, err
	}

	if p.kwIs("AS") {
		p.advance()
		alias, err := p.expect(tokVar, "alias variable")
		if err != nil {
			return plan.Aggregate{}, err
		}
		agg.Alias = alias.text
	} else {
		agg.Alias = defaultAggregateAlias(fn, agg.Variable, agg.IsStar)
	}
	return agg, nil
}

func defaultAggregateAlias(fn plan.AggregateFunc, variable string, isStar bool) string {
	name := strings.ToLower(string(fn))
	if isStar {
		return name
	}
	return name + "_" + variable
}

// parseGroupGraphPattern parses the body of a WHERE { ... } block:
// triple patterns, OPTIONAL blocks, UNION pairs, and FILTER expressions.
// A triple pattern may be followed by '.'; the other forms may not.
func (p *parserState) parseGroupGraphPattern(pl *plan.Plan) error {
	for {
		switch {
		case p.cur().kind == tokRBrace:
			return nil
		case p.kwIs("OPTIONAL"):
			p.advance()
			if _, err := p.expect(tokLBrace, "'{'"); err != nil {
				return err
			}
			tps, err := p.parsePatternList()
			if err != nil {
				return err
			}
			pl.Optionals = append(pl.Optionals, tps...)
			if _, err := p.expect(tokRBrace, "'}'"); err != nil {
				return err
			}
		case p.kwIs("FILTER"):
			p.advance()
			if _, err := p.expect(tokLParen, "'('"); err != nil {
				return err
			}
			f, err := p.parseFilterExpr()
			if err != nil {
				return err
			}
			pl.Filters = append(pl.Filters, f)
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return err
			}
		case p.cur().kind == tokLBrace:
			p.advance()
			left, err := p.parsePatternList()
			if err != nil {
				return err
			}
			if _, err := p.expect(tokRBrace, "'}'"); err != nil {
				return err
			}
			if err := p.expectKw("UNION"); err != nil {
				return err
			}
			if _, err := p.expect(tokLBrace, "'{'"); err != nil {
				return err
			}
			right, err := p.parsePatternList()
			if err != nil {
				return err
			}
			if _, err := p.expect(tokRBrace, "'}'"); err != nil {
				return err
			}
			pl.Unions = append(pl.Unions, left, right)
		default:
			tp, err := p.parseTriplePattern()
			if err != nil {
				return err
			}
			pl.Patterns = append(pl.Patterns, tp)
			recordVariablePositions(pl, tp)
			if p.cur().kind == tokDot {
				p.advance()
			}
		}
	}
}

// parsePatternList parses a sequence of dot-separated triple patterns
// until the enclosing '}'.
func (p *parserState) parsePatternList() ([]plan.TriplePattern, error) {
	var out []plan.TriplePattern
	for p.cur().kind != tokRBrace {
		tp, err := p.parseTriplePattern()
		if err != nil {
			return nil, err
		}
		out = append(out, tp)
		if p.cur().kind == tokDot {
			p.advance()
		}
	}
	return out, nil
}

func (p *parserState) parseTerm() (plan.Term, error) {
	switch p.cur().kind {
	case tokVar:
		return plan.Var(p.advance().text), nil
	case tokString, tokIdent, tokNumber:
		return plan.Lit(p.advance().text), nil
	default:
		return plan.Term{}, fmt.Errorf("expected term, got %q", p.cur().text)
	}
}

func (p *parserState) parseTriplePattern() (plan.TriplePattern, error) {
	s, err := p.parseTerm()
	if err != nil {
		return plan.TriplePattern{}, fmt.Errorf("subject: %w", err)
	}
	pr, err := p.parseTerm()
	if err != nil {
		return plan.TriplePattern{}, fmt.Errorf("predicate: %w", err)
	}
	o, err := p.parseTerm()
	if err != nil {
		return plan.TriplePattern{}, fmt.Errorf("object: %w", err)
	}
	return plan.TriplePattern{Subject: s, Predicate: pr, Object: o}, nil
}

func recordVariablePositions(pl *plan.Plan, tp plan.TriplePattern) {
	if tp.Subject.IsVariable {
		pl.VariablePositions[tp.Subject.Value] = "s"
	}
	if tp.Predicate.IsVariable {
		pl.VariablePositions[tp.Predicate.Value] = "p"
	}
	if tp.Object.IsVariable {
		pl.VariablePositions[tp.Object.Value] = "o"
	}
}

func (p *parserState) parseFilterExpr() (plan.Filter, error) {
	v, err := p.expect(tokVar, "variable")
	if err != nil {
		return plan.Filter{}, err
	}

	var op plan.FilterOp
	switch p.cur().kind {
	case tokEq:
		op = plan.OpEq
	case tokNe:
		op = plan.OpNe
	case tokGt:
		op = plan.OpGt
	case tokLt:
		op = plan.OpLt
	default:
		return plan.Filter{}, fmt.Errorf("expected comparison operator, got %q", p.cur().text)
	}
	p.advance()

	lit, err := p.parseLiteral()
	if err != nil {
		return plan.Filter{}, err
	}

	return plan.Filter{Op: op, Variable: v.text, Value: lit}, nil
}

func (p *parserState) parseLiteral() (plan.Literal, error) {
	t := p.cur()
	switch t.kind {
	case tokString:
		p.advance()
		return plan.Literal{Kind: plan.LiteralString, Str: t.text}, nil
	case tokNumber:
		p.advance()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return plan.Literal{}, fmt.Errorf("invalid integer literal %q: %w", t.text, err)
		}
		return plan.Literal{Kind: plan.LiteralInt, Int: n}, nil
	case tokIdent:
		if strings.EqualFold(t.text, "true") || strings.EqualFold(t.text, "false") {
			p.advance()
			return plan.Literal{Kind: plan.LiteralBool, Bool: strings.EqualFold(t.text, "true")}, nil
		}
		p.advance()
		return plan.Literal{Kind: plan.LiteralString, Str: t.text}, nil
	default:
		return plan.Literal{}, fmt.Errorf("expected literal, got %q", t.text)
	}
}
