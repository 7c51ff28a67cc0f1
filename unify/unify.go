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

// Package unify implements a bidirectional unifier over ast.Atom values,
// with explicit, exact undo of bindings on backtracking (spec §4.1).
package unify

import (
	"fmt"

	"github.com/dlpolicy/theory/ast"
)

// Side distinguishes the two atoms being unified, so that a variable named
// "X" on the left is independent of a variable named "X" on the right.
type Side uint8

const (
	// Left tags terms belonging to the first atom passed to BiUnifyAtoms.
	Left Side = iota
	// Right tags terms belonging to the second atom.
	Right
)

func (s Side) String() string {
	if s == Left {
		return "L"
	}
	return "R"
}

// sideVar is a (variable, side) pair: the key space of a BiUnifier.
type sideVar struct {
	name string
	side Side
}

// binding is what a sideVar is bound to: either another sideVar (variable
// aliasing) or a ground ast.Constant.
type binding struct {
	toVar   sideVar
	toConst ast.Constant
	isVar   bool
}

// BiUnifier maps (variable, side) pairs to another (variable, side) or to a
// constant. It supports stacked speculative bindings so that backtracking
// in a resolver can be undone exactly (spec §4.1).
type BiUnifier struct {
	bindings map[sideVar]binding
}

// New constructs an empty BiUnifier.
func New() *BiUnifier {
	return &BiUnifier{bindings: map[sideVar]binding{}}
}

// undoRecord restores one prior entry of the bindings map, including the
// "was absent" case.
type undoRecord struct {
	key      sideVar
	hadValue bool
	oldValue binding
}

// Undo is the list of undoRecords produced by one BiUnifyAtoms call. Passing
// it to UndoAll restores the unifier to its exact pre-call state.
type Undo []undoRecord

// lookup follows bindings for key once (non-transitively); callers use
// representative() to fully resolve a chain.
func (u *BiUnifier) lookup(key sideVar) (binding, bool) {
	b, ok := u.bindings[key]
	return b, ok
}

// representative walks variable bindings to their final representative:
// either a constant, or an unbound (variable, side) pair.
func (u *BiUnifier) representative(v sideVar) (sideVar, *ast.Constant) {
	seen := map[sideVar]bool{}
	cur := v
	for {
		if seen[cur] {
			// A binding cycle should never occur because bindVar always
			// checks occurs-freeness before writing, but guard against
			// infinite loops defensively.
			return cur, nil
		}
		seen[cur] = true
		b, ok := u.lookup(cur)
		if !ok {
			return cur, nil
		}
		if !b.isVar {
			c := b.toConst
			return cur, &c
		}
		cur = b.toVar
	}
}

// Apply walks bindings for (name, side) to its representative, returning
// either the final constant or the final unbound ast.Variable.
func (u *BiUnifier) Apply(name string, side Side) ast.Term {
	rep, c := u.representative(sideVar{name, side})
	if c != nil {
		return *c
	}
	return ast.NewVariable(rep.name)
}

// ApplySide is like Apply, but also reports the side the returned
// representative belongs to when it is still unbound. Callers that need to
// bind that representative later (e.g. once a lookup elsewhere resolves it)
// must use this side, not the side the query originally came in on: a
// variable can end up represented by a sideVar on the other side after
// aliasing.
func (u *BiUnifier) ApplySide(name string, side Side) (ast.Term, Side) {
	rep, c := u.representative(sideVar{name, side})
	if c != nil {
		return *c, side
	}
	return ast.NewVariable(rep.name), rep.side
}

// setVar records a speculative binding of key to value, appending an undo
// record that restores the prior state.
func (u *BiUnifier) setVar(key sideVar, value binding, undo *Undo) {
	old, had := u.lookup(key)
	*undo = append(*undo, undoRecord{key: key, hadValue: had, oldValue: old})
	u.bindings[key] = value
}

// UndoAll restores every record in undo, in reverse order, leaving the
// unifier identical to its contents before the corresponding BiUnifyAtoms
// call.
func (u *BiUnifier) UndoAll(undo Undo) {
	for i := len(undo) - 1; i >= 0; i-- {
		rec := undo[i]
		if rec.hadValue {
			u.bindings[rec.key] = rec.oldValue
		} else {
			delete(u.bindings, rec.key)
		}
	}
}

// BiUnifyAtoms attempts to unify a1 (under u1) against a2 (under u2).
// Tables and arity must match; arguments are unified positionally. On
// success it returns the list of undo records and true; on failure it
// returns a nil Undo and false, leaving the unifier untouched.
func (u *BiUnifier) BiUnifyAtoms(a1 ast.Atom, u1 Side, a2 ast.Atom, u2 Side) (Undo, bool) {
	if a1.Table != a2.Table || len(a1.Arguments) != len(a2.Arguments) {
		return nil, false
	}
	sides1 := make([]Side, len(a1.Arguments))
	sides2 := make([]Side, len(a2.Arguments))
	for i := range sides1 {
		sides1[i] = u1
	}
	for i := range sides2 {
		sides2[i] = u2
	}
	return u.BiUnifyPositional(a1.Arguments, sides1, a2.Arguments, sides2)
}

// BiUnifyPositional is the general form of BiUnifyAtoms: each term carries
// its own side instead of every term on one list sharing a single side. This
// is what a multi-step resolver needs once some arguments are representative
// variables discovered partway through a longer proof search, and so no
// longer share one uniform side with the rest of the atom.
func (u *BiUnifier) BiUnifyPositional(terms1 []ast.Term, sides1 []Side, terms2 []ast.Term, sides2 []Side) (Undo, bool) {
	if len(terms1) != len(terms2) || len(terms1) != len(sides1) || len(terms2) != len(sides2) {
		return nil, false
	}
	var undo Undo
	for i := range terms1 {
		if !u.biUnifyTerms(terms1[i], sides1[i], terms2[i], sides2[i], &undo) {
			u.UndoAll(undo)
			return nil, false
		}
	}
	return undo, true
}

func (u *BiUnifier) biUnifyTerms(t1 ast.Term, s1 Side, t2 ast.Term, s2 Side, undo *Undo) bool {
	if v1, ok := t1.(ast.Variable); ok {
		return u.bindVar(sideVar{v1.VarName, s1}, t2, s2, undo)
	}
	if v2, ok := t2.(ast.Variable); ok {
		return u.bindVar(sideVar{v2.VarName, s2}, t1, s1, undo)
	}
	c1, ok1 := t1.(ast.Constant)
	c2, ok2 := t2.(ast.Constant)
	if !ok1 || !ok2 {
		return false
	}
	return c1.Equals(c2)
}

// bindVar unifies the variable identified by sv against other (which may
// itself be a variable or a constant), following existing bindings to their
// representatives first.
func (u *BiUnifier) bindVar(sv sideVar, other ast.Term, otherSide Side, undo *Undo) bool {
	svRep, svConst := u.representative(sv)
	if svConst != nil {
		return u.biUnifyTerms(*svConst, Left, other, otherSide, undo)
	}

	if ov, ok := other.(ast.Variable); ok {
		ovSV := sideVar{ov.VarName, otherSide}
		ovRep, ovConst := u.representative(ovSV)
		if ovConst != nil {
			u.setVar(svRep, binding{toConst: *ovConst}, undo)
			return true
		}
		if svRep == ovRep {
			return true // already unified with itself
		}
		u.setVar(svRep, binding{toVar: ovRep, isVar: true}, undo)
		return true
	}

	c, ok := other.(ast.Constant)
	if !ok {
		return false
	}
	u.setVar(svRep, binding{toConst: c}, undo)
	return true
}

// String renders the unifier's current bindings for debugging/tracing.
func (u *BiUnifier) String() string {
	return fmt.Sprintf("BiUnifier%v", u.bindings)
}
