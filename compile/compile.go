// Copyright 2024 The Policy Theory Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compile is a minimal reference implementation of the external
// compiler the engine consumes (spec.md §1, §6: "out of scope... consumed
// interface only"). It is not the engine's concern to optimize or validate
// beyond syntax; it exists so the dispatcher and CLI have a real compiler to
// call without requiring callers to build ast.Formula values by hand.
package compile

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/multierr"

	"github.com/dlpolicy/theory/ast"
)

// ErrStatementCount is wrapped by ParseOne when source does not contain
// exactly one statement, so callers enforcing single-statement queries
// (spec.md §6) can distinguish this from a genuine syntax error.
var ErrStatementCount = errors.New("compile: wrong number of statements")

// Compiler turns source text into a theory of formulas. The engine treats
// this as an external collaborator (spec.md §1); dispatch.Engine is the
// only package that calls it.
type Compiler interface {
	Compile(args []string) (CompiledTheory, error)
}

// CompiledTheory is the result of a successful compile: zero or more facts
// and rules in source order.
type CompiledTheory struct {
	Theory []ast.Formula
}

// TextCompiler parses the small surface syntax used throughout this
// module's tests and CLI: every statement ends with '.' (line breaks are
// plain whitespace, so statements may share a line or span several), and
// is either a fact "table(arg, ...)." or a rule
// "head(...) :- body1(...), body2(...)." A leading "not " negates a body
// literal. Identifiers starting with an uppercase letter are variables;
// everything else (lowercase identifiers, digits, quoted strings) is a
// constant, following the conventional Prolog-style lexical split.
type TextCompiler struct{}

// Compile concatenates args (either whole programs or individual
// statements) and parses them as one source unit.
func (TextCompiler) Compile(args []string) (CompiledTheory, error) {
	source := strings.Join(args, "\n")
	formulas, err := Parse(source)
	if err != nil {
		return CompiledTheory{}, err
	}
	return CompiledTheory{Theory: formulas}, nil
}

// Parse parses source into an ordered list of formulas. A syntax error in
// one statement does not prevent the rest of the source from being parsed:
// the parser resynchronizes at the next '.' and keeps going, collecting
// every diagnostic with multierr rather than stopping at the first one
// (spec.md §7 "compiler error... surfaced verbatim" -- plural, since a
// whole policy file may have more than one mistake in it). If any errors
// were collected, the returned formula list is nil.
func Parse(source string) ([]ast.Formula, error) {
	p := &parser{lex: newLexer(source)}
	p.advance()
	var formulas []ast.Formula
	var errs error
	for p.tok.kind != tokEOF {
		f, err := p.statement()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compile: %w", err))
			p.resync()
			continue
		}
		formulas = append(formulas, f)
	}
	if errs != nil {
		return nil, errs
	}
	return formulas, nil
}

// resync skips tokens up to and including the next '.', or to EOF, so
// Parse can keep looking for further statements after a syntax error.
func (p *parser) resync() {
	for p.tok.kind != tokEOF && p.tok.kind != tokDot {
		p.advance()
	}
	if p.tok.kind == tokDot {
		p.advance()
	}
}

// ParseOne parses source as exactly one statement, failing if zero or more
// than one is present (spec.md §6 "multi-statement queries" are ill-formed
// at the dispatcher; this helper gives dispatch a single place to enforce
// it for compiler-backed input).
func ParseOne(source string) (ast.Formula, error) {
	formulas, err := Parse(source)
	if err != nil {
		return nil, err
	}
	if len(formulas) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one statement, got %d", ErrStatementCount, len(formulas))
	}
	return formulas[0], nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() { p.tok = p.lex.next() }

func (p *parser) expect(kind tokenKind, text string) error {
	if p.tok.kind != kind {
		return fmt.Errorf("expected %q, got %q at position %d", text, p.tok.text, p.tok.pos)
	}
	p.advance()
	return nil
}

func (p *parser) statement() (ast.Formula, error) {
	head, err := p.atom()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokRuleArrow {
		p.advance()
		var body []ast.Atom
		for {
			lit, err := p.literal()
			if err != nil {
				return nil, err
			}
			body = append(body, lit)
			if p.tok.kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if err := p.expect(tokDot, "."); err != nil {
			return nil, err
		}
		return ast.NewRule(head, body...), nil
	}
	if err := p.expect(tokDot, "."); err != nil {
		return nil, err
	}
	return head, nil
}

func (p *parser) literal() (ast.Atom, error) {
	negated := false
	if p.tok.kind == tokIdent && p.tok.text == "not" {
		negated = true
		p.advance()
	}
	a, err := p.atom()
	if err != nil {
		return ast.Atom{}, err
	}
	a.Negated = negated
	return a, nil
}

func (p *parser) atom() (ast.Atom, error) {
	if p.tok.kind != tokIdent {
		return ast.Atom{}, fmt.Errorf("expected table name, got %q at position %d", p.tok.text, p.tok.pos)
	}
	table := p.tok.text
	p.advance()
	if err := p.expect(tokLParen, "("); err != nil {
		return ast.Atom{}, err
	}
	var args []ast.Term
	if p.tok.kind != tokRParen {
		for {
			term, err := p.term()
			if err != nil {
				return ast.Atom{}, err
			}
			args = append(args, term)
			if p.tok.kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return ast.Atom{}, err
	}
	return ast.NewAtom(table, args...), nil
}

func (p *parser) term() (ast.Term, error) {
	switch p.tok.kind {
	case tokIdent, tokNumber, tokString:
		text := p.tok.text
		isVar := p.tok.kind == tokIdent && len(text) > 0 && unicode.IsUpper(rune(text[0]))
		p.advance()
		if isVar {
			return ast.NewVariable(text), nil
		}
		return ast.NewConstant(text), nil
	default:
		return nil, fmt.Errorf("expected a term, got %q at position %d", p.tok.text, p.tok.pos)
	}
}
