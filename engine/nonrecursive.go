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

package engine

import (
	"errors"
	"fmt"

	"bitbucket.org/creachadair/stringset"

	"github.com/dlpolicy/theory/ast"
	"github.com/dlpolicy/theory/database"
	"github.com/dlpolicy/theory/unify"
)

// ErrUnsafeNegation is returned when top-down resolution reaches a negated
// literal that still has unbound variables (spec §4.6, §7).
var ErrUnsafeNegation = errors.New("unsafe negation: literal has unbound variables")

// Includable is implemented by theories that a NonrecursiveRuleTheory can
// delegate to when a literal's table is absent from its own contents (spec
// §4.6 "Includes", §4.7). Both MaterializedRuleTheory and
// NonrecursiveRuleTheory implement it, so inclusion chains compose.
type Includable interface {
	HasTable(table string) bool
	MatchLiteral(literal ast.Atom) []ast.Binding
}

// NonrecursiveRuleTheory stores rules indexed by head table and resolves
// queries by top-down (SLD-style) search with backtracking (spec §4.6). It
// never itself recurses through a table that depends on itself; safety
// against that is a property of how rules are composed, not enforced here.
type NonrecursiveRuleTheory struct {
	contents map[string][]ast.Rule
	// seen holds the canonical string form of every rule already present
	// per head table, so Insert can eliminate duplicates the same way the
	// original source's NonrecursiveRuleTheory.insert does.
	seen     map[string]stringset.Set
	includes []Includable
	tracer   *Tracer
}

// NewNonrecursiveRuleTheory constructs an empty NonrecursiveRuleTheory.
func NewNonrecursiveRuleTheory() *NonrecursiveRuleTheory {
	return &NonrecursiveRuleTheory{
		contents: map[string][]ast.Rule{},
		seen:     map[string]stringset.Set{},
		tracer:   NewTracer(),
	}
}

// Tracer returns this theory's Tracer.
func (n *NonrecursiveRuleTheory) Tracer() *Tracer { return n.tracer }

// Include adds theory to the ordered list of theories consulted when a
// literal's table has no local rules.
func (n *NonrecursiveRuleTheory) Include(theory Includable) {
	n.includes = append(n.includes, theory)
}

// HasTable implements Includable: true if there is at least one local rule
// for table, or an included theory knows it.
func (n *NonrecursiveRuleTheory) HasTable(table string) bool {
	if _, ok := n.contents[table]; ok {
		return true
	}
	for _, inc := range n.includes {
		if inc.HasTable(table) {
			return true
		}
	}
	return false
}

func asRule(formula ast.Formula) (ast.Rule, error) {
	switch f := formula.(type) {
	case ast.Atom:
		return ast.Rule{Head: f}, nil
	case ast.Rule:
		return f, nil
	default:
		return ast.Rule{}, fmt.Errorf("nonrecursive theory: formula must be an atom or rule, got %T", formula)
	}
}

// Insert adds formula (a bare atom becomes a fact rule with an empty body)
// unless an equal rule is already present for that head table.
func (n *NonrecursiveRuleTheory) Insert(formula ast.Formula) error {
	rule, err := asRule(formula)
	if err != nil {
		return err
	}
	table := rule.Head.Table
	key := rule.String()
	if n.seen[table].Contains(key) {
		return nil
	}
	if _, ok := n.seen[table]; !ok {
		n.seen[table] = stringset.New()
	}
	n.seen[table].Add(key)
	n.contents[table] = append(n.contents[table], rule)
	return nil
}

// Delete removes a rule equal to formula from its head table, or returns an
// error if no such rule is present.
func (n *NonrecursiveRuleTheory) Delete(formula ast.Formula) error {
	rule, err := asRule(formula)
	if err != nil {
		return err
	}
	table := rule.Head.Table
	rules, ok := n.contents[table]
	if !ok {
		return fmt.Errorf("nonrecursive theory: rule not found: %s", rule)
	}
	for i, existing := range rules {
		if existing.Equals(rule) {
			n.contents[table] = append(rules[:i], rules[i+1:]...)
			n.seen[table].Remove(rule.String())
			if len(n.contents[table]) == 0 {
				delete(n.contents, table)
				delete(n.seen, table)
			}
			return nil
		}
	}
	return fmt.Errorf("nonrecursive theory: rule not found: %s", rule)
}

// Select proves query (an atom, or a rule whose body is the query) against
// this theory, returning at most maxAnswers instances of the query's head
// with the solving bindings applied. maxAnswers <= 0 means unbounded.
func (n *NonrecursiveRuleTheory) Select(query ast.Formula, maxAnswers int) ([]ast.Atom, error) {
	var literals []ast.Atom
	var head ast.Atom
	switch q := query.(type) {
	case ast.Atom:
		literals = []ast.Atom{q}
		head = q
	case ast.Rule:
		literals = q.Body
		head = q.Head
	default:
		return nil, fmt.Errorf("nonrecursive theory: query must be an atom or rule, got %T", query)
	}
	bindings, err := n.solve(literals, maxAnswers)
	if err != nil {
		return nil, err
	}
	results := make([]ast.Atom, len(bindings))
	for i, b := range bindings {
		results[i] = head.Plug(b)
	}
	return results, nil
}

// MatchLiteral implements Includable: it proves literal once per solution
// and returns the bindings discovered for literal's own free variables, so
// an including theory can fold them into its own search.
func (n *NonrecursiveRuleTheory) MatchLiteral(literal ast.Atom) []ast.Binding {
	bindings, err := n.solve([]ast.Atom{literal}, 0)
	if err != nil {
		return nil
	}
	return bindings
}

// Explain builds a proof tree for a ground atom query by re-running top-down
// resolution and recording, at each successful rule activation, the children
// produced by explaining its body literals. Unlike MaterializedRuleTheory,
// nothing is cached: every call re-derives a proof from scratch, and any one
// successful derivation is reported (spec §4.6, §4.5 "explain").
func (n *NonrecursiveRuleTheory) Explain(query ast.Atom) (*database.ProofTree, error) {
	if !query.IsGround() {
		return nil, fmt.Errorf("nonrecursive theory: explain requires a ground atom, got %v", query)
	}
	s := &selectState{theory: n, unifier: unify.New(), maxAnswers: 1}
	tree, ok := s.explainLiteral(query, unify.Left, 0)
	if s.err != nil {
		return nil, s.err
	}
	if !ok {
		return nil, fmt.Errorf("nonrecursive theory: no proof found for %v", query)
	}
	return tree, nil
}

// explainLiteral mirrors resolveLiteral, but instead of invoking a
// continuation it builds and returns the proof tree for the first successful
// derivation it finds.
func (s *selectState) explainLiteral(lit ast.Atom, side unify.Side, depth int) (*database.ProofTree, bool) {
	if s.err != nil {
		return nil, false
	}
	terms, sides := s.renderArgs(lit, side)
	grounded := ast.Atom{Table: lit.Table, Arguments: terms, Negated: lit.Negated}

	if grounded.Negated {
		if !grounded.IsGround() {
			s.err = ErrUnsafeNegation
			return nil, false
		}
		positive := ast.Atom{Table: grounded.Table, Arguments: grounded.Arguments}
		if s.theory.provable(positive) {
			return nil, false
		}
		return &database.ProofTree{Root: grounded}, true
	}

	if rules, ok := s.theory.contents[grounded.Table]; ok {
		for _, rule := range rules {
			fresh := s.freshenRule(rule)
			headSides := make([]unify.Side, len(fresh.Head.Arguments))
			for i := range headSides {
				headSides[i] = unify.Right
			}
			undo, unified := s.unifier.BiUnifyPositional(terms, sides, fresh.Head.Arguments, headSides)
			if !unified {
				continue
			}
			children := make([]*database.ProofTree, 0, len(fresh.Body))
			succeeded := true
			for _, bodyLit := range fresh.Body {
				child, found := s.explainLiteral(bodyLit, unify.Right, depth+1)
				if !found {
					succeeded = false
					break
				}
				children = append(children, child)
			}
			s.unifier.UndoAll(undo)
			if succeeded {
				return &database.ProofTree{Root: grounded, Children: children}, true
			}
			if s.err != nil {
				return nil, false
			}
		}
		return nil, false
	}

	for _, inc := range s.theory.includes {
		if !inc.HasTable(grounded.Table) {
			continue
		}
		for _, binding := range inc.MatchLiteral(grounded) {
			undo, ok := s.bindFromBinding(terms, sides, binding)
			if !ok {
				continue
			}
			s.unifier.UndoAll(undo)
			return &database.ProofTree{Root: grounded}, true
		}
	}
	return nil, false
}

func collectVariableNames(literals []ast.Atom) []string {
	seen := map[string]bool{}
	var names []string
	for _, lit := range literals {
		for _, vv := range lit.Variables() {
			if !seen[vv.VarName] {
				seen[vv.VarName] = true
				names = append(names, vv.VarName)
			}
		}
	}
	return names
}

// solve runs SLD resolution for literals and returns the bindings for their
// free variables, one per answer found (spec §4.6). maxAnswers <= 0 means
// unbounded.
func (n *NonrecursiveRuleTheory) solve(literals []ast.Atom, maxAnswers int) ([]ast.Binding, error) {
	s := &selectState{theory: n, unifier: unify.New(), maxAnswers: maxAnswers}
	varNames := collectVariableNames(literals)
	finish := func() bool {
		b := ast.Binding{}
		for _, name := range varNames {
			if cst, ok := s.unifier.Apply(name, unify.Left).(ast.Constant); ok {
				b[name] = cst
			}
		}
		s.bindings = append(s.bindings, b)
		if s.maxAnswers <= 0 {
			return false
		}
		return len(s.bindings) >= s.maxAnswers
	}
	s.resolveConjunction(literals, 0, unify.Left, 0, finish)
	if s.err != nil {
		return nil, s.err
	}
	return s.bindings, nil
}

// provable reports whether a ground atom has at least one proof, used for
// negation-as-failure (spec §4.6). groundAtom must not itself be negated.
func (n *NonrecursiveRuleTheory) provable(groundAtom ast.Atom) bool {
	s := &selectState{theory: n, unifier: unify.New(), maxAnswers: 1}
	found := false
	s.resolveLiteral(groundAtom, unify.Left, 0, func() bool {
		found = true
		return true
	})
	return found
}

// selectState is the mutable state of one top-down search: the unifier, the
// answers collected so far, and a fresh-variable counter used to rename
// apart each rule activation so that its local variables can never collide
// with a different activation's (spec §4.6's "fresh unifier" per rule,
// reinterpreted here as fresh variable names within one persistent
// unifier -- see DESIGN.md).
type selectState struct {
	theory     *NonrecursiveRuleTheory
	unifier    *unify.BiUnifier
	bindings   []ast.Binding
	maxAnswers int
	fresh      int
	err        error
}

// freshenRule renames every variable of r with a unique numeric suffix, so
// that this activation's local variables cannot alias a sibling or ancestor
// activation's variables of the same name.
func (s *selectState) freshenRule(r ast.Rule) ast.Rule {
	s.fresh++
	suffix := fmt.Sprintf("#%d", s.fresh)
	rename := func(a ast.Atom) ast.Atom {
		args := make([]ast.Term, len(a.Arguments))
		for i, arg := range a.Arguments {
			if vv, ok := arg.(ast.Variable); ok {
				args[i] = ast.NewVariable(vv.VarName + suffix)
			} else {
				args[i] = arg
			}
		}
		return ast.Atom{Table: a.Table, Arguments: args, Negated: a.Negated}
	}
	body := make([]ast.Atom, len(r.Body))
	for i, lit := range r.Body {
		body[i] = rename(lit)
	}
	return ast.Rule{Head: rename(r.Head), Body: body}
}

// renderArgs resolves each of atom's arguments against the current unifier
// state under side, returning the resolved terms together with the side
// each still-unbound variable's representative actually belongs to (which
// may differ from side, once variables have been aliased across sides).
func (s *selectState) renderArgs(atom ast.Atom, side unify.Side) ([]ast.Term, []unify.Side) {
	terms := make([]ast.Term, len(atom.Arguments))
	sides := make([]unify.Side, len(atom.Arguments))
	for i, arg := range atom.Arguments {
		if vv, ok := arg.(ast.Variable); ok {
			term, repSide := s.unifier.ApplySide(vv.VarName, side)
			terms[i] = term
			sides[i] = repSide
		} else {
			terms[i] = arg
			sides[i] = side
		}
	}
	return terms, sides
}

func (s *selectState) log(table, verb string, grounded ast.Atom, depth int) {
	s.theory.tracer.Log(table, "RuleTh", fmt.Sprintf("%s: %s", verb, grounded), depth)
}

// resolveConjunction proves literals[index:] under side, calling cont once
// the whole list succeeds. It returns true once cont (transitively) reports
// the search is finished.
func (s *selectState) resolveConjunction(literals []ast.Atom, index int, side unify.Side, depth int, cont func() bool) bool {
	if s.err != nil {
		return true
	}
	if index > len(literals)-1 {
		return cont()
	}
	return s.resolveLiteral(literals[index], side, depth, func() bool {
		return s.resolveConjunction(literals, index+1, side, depth, cont)
	})
}

// resolveLiteral proves a single literal under side, by rule resolution,
// delegation to an included theory, or negation-as-failure, then invokes
// cont for each solution found. It returns true once cont reports the
// search is finished, undoing every speculative binding it made along the
// way before returning either way (spec §4.6, §8 "Backtracking restores
// state").
func (s *selectState) resolveLiteral(lit ast.Atom, side unify.Side, depth int, cont func() bool) bool {
	if s.err != nil {
		return true
	}
	terms, sides := s.renderArgs(lit, side)
	grounded := ast.Atom{Table: lit.Table, Arguments: terms, Negated: lit.Negated}
	s.log(grounded.Table, "Call", grounded, depth)

	if grounded.Negated {
		if !grounded.IsGround() {
			s.err = ErrUnsafeNegation
			return true
		}
		positive := ast.Atom{Table: grounded.Table, Arguments: grounded.Arguments}
		if s.theory.provable(positive) {
			s.log(grounded.Table, "Fail", grounded, depth)
			return false
		}
		s.log(grounded.Table, "Exit", grounded, depth)
		return cont()
	}

	if rules, ok := s.theory.contents[grounded.Table]; ok {
		for _, rule := range rules {
			fresh := s.freshenRule(rule)
			headSides := make([]unify.Side, len(fresh.Head.Arguments))
			for i := range headSides {
				headSides[i] = unify.Right
			}
			undo, unified := s.unifier.BiUnifyPositional(terms, sides, fresh.Head.Arguments, headSides)
			if !unified {
				continue
			}
			var finished bool
			if len(fresh.Body) == 0 {
				finished = cont()
			} else {
				finished = s.resolveConjunction(fresh.Body, 0, unify.Right, depth+1, cont)
			}
			s.unifier.UndoAll(undo)
			if finished {
				s.log(grounded.Table, "Exit", grounded, depth)
				return true
			}
		}
		s.log(grounded.Table, "Fail", grounded, depth)
		return false
	}

	for _, inc := range s.theory.includes {
		if !inc.HasTable(grounded.Table) {
			continue
		}
		for _, binding := range inc.MatchLiteral(grounded) {
			undo, ok := s.bindFromBinding(terms, sides, binding)
			if !ok {
				continue
			}
			finished := cont()
			s.unifier.UndoAll(undo)
			if finished {
				s.log(grounded.Table, "Exit", grounded, depth)
				return true
			}
		}
	}
	s.log(grounded.Table, "Fail", grounded, depth)
	return false
}

// bindFromBinding folds the constant values an included theory discovered
// for grounded's still-free arguments into the unifier, as a single
// all-or-nothing step.
func (s *selectState) bindFromBinding(terms []ast.Term, sides []unify.Side, binding ast.Binding) (unify.Undo, bool) {
	var total unify.Undo
	for i, t := range terms {
		v, isVar := t.(ast.Variable)
		if !isVar {
			continue
		}
		value, found := binding[v.VarName]
		if !found {
			continue
		}
		undo, ok := s.unifier.BiUnifyPositional(
			[]ast.Term{ast.NewVariable(v.VarName)}, []unify.Side{sides[i]},
			[]ast.Term{value}, []unify.Side{sides[i]},
		)
		if !ok {
			s.unifier.UndoAll(total)
			return nil, false
		}
		total = append(total, undo...)
	}
	return total, true
}
