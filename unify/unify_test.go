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

package unify

import (
	"testing"

	"github.com/dlpolicy/theory/ast"
)

func TestBiUnifyAtomsConstants(t *testing.T) {
	a1 := ast.NewAtom("p", ast.NewConstant("1"))
	a2 := ast.NewAtom("p", ast.NewConstant("1"))
	u := New()
	undo, ok := u.BiUnifyAtoms(a1, Left, a2, Right)
	if !ok {
		t.Fatalf("expected unification to succeed")
	}
	if len(undo) != 0 {
		t.Errorf("expected no bindings for ground vs ground, got %d", len(undo))
	}
}

func TestBiUnifyAtomsConstantMismatch(t *testing.T) {
	a1 := ast.NewAtom("p", ast.NewConstant("1"))
	a2 := ast.NewAtom("p", ast.NewConstant("2"))
	u := New()
	_, ok := u.BiUnifyAtoms(a1, Left, a2, Right)
	if ok {
		t.Fatalf("expected unification to fail on mismatched constants")
	}
}

func TestBiUnifyAtomsTableOrArityMismatch(t *testing.T) {
	u := New()
	if _, ok := u.BiUnifyAtoms(ast.NewAtom("p", ast.NewConstant("1")), Left, ast.NewAtom("q", ast.NewConstant("1")), Right); ok {
		t.Errorf("expected table mismatch to fail")
	}
	if _, ok := u.BiUnifyAtoms(ast.NewAtom("p", ast.NewConstant("1")), Left, ast.NewAtom("p", ast.NewConstant("1"), ast.NewConstant("2")), Right); ok {
		t.Errorf("expected arity mismatch to fail")
	}
}

func TestBiUnifyAtomsVariableBinding(t *testing.T) {
	rule := ast.NewAtom("q", ast.NewVariable("X"))
	lit := ast.NewAtom("q", ast.NewConstant("alice"))
	u := New()
	undo, ok := u.BiUnifyAtoms(rule, Left, lit, Right)
	if !ok {
		t.Fatalf("expected unification to succeed")
	}
	got := u.Apply("X", Left)
	want := ast.NewConstant("alice")
	if !got.Equals(want) {
		t.Errorf("Apply(X, Left) = %v, want %v", got, want)
	}
	u.UndoAll(undo)
	got = u.Apply("X", Left)
	if !got.Equals(ast.NewVariable("X")) {
		t.Errorf("after UndoAll, Apply(X, Left) = %v, want unbound X", got)
	}
}

func TestBiUnifyAtomsSideIndependence(t *testing.T) {
	// Same variable name "X" on both sides must be treated independently.
	left := ast.NewAtom("p", ast.NewVariable("X"), ast.NewVariable("X"))
	right := ast.NewAtom("p", ast.NewConstant("1"), ast.NewConstant("2"))
	u := New()
	_, ok := u.BiUnifyAtoms(left, Left, right, Right)
	if ok {
		t.Fatalf("expected repeated variable on one side to force equal args, unification should fail")
	}

	u2 := New()
	leftX := ast.NewAtom("p", ast.NewVariable("X"))
	rightX := ast.NewAtom("p", ast.NewVariable("X"))
	_, ok = u2.BiUnifyAtoms(leftX, Left, rightX, Right)
	if !ok {
		t.Fatalf("expected unification of two unbound identically-named variables on different sides to succeed")
	}
	if !u2.Apply("X", Left).Equals(ast.NewVariable("X")) {
		t.Errorf("left X should remain unbound to a fresh representative, got %v", u2.Apply("X", Left))
	}
}

func TestBiUnifyAtomsRepeatedVariableConsistency(t *testing.T) {
	rule := ast.NewAtom("same", ast.NewVariable("X"), ast.NewVariable("X"))
	okLit := ast.NewAtom("same", ast.NewConstant("1"), ast.NewConstant("1"))
	badLit := ast.NewAtom("same", ast.NewConstant("1"), ast.NewConstant("2"))

	u := New()
	if _, ok := u.BiUnifyAtoms(rule, Left, okLit, Right); !ok {
		t.Errorf("expected repeated variable bound consistently to unify")
	}
	u2 := New()
	if _, ok := u2.BiUnifyAtoms(rule, Left, badLit, Right); ok {
		t.Errorf("expected repeated variable bound inconsistently to fail")
	}
}

func TestUndoAllRestoresExactState(t *testing.T) {
	u := New()
	undo1, ok := u.BiUnifyAtoms(ast.NewAtom("p", ast.NewVariable("X")), Left, ast.NewAtom("p", ast.NewConstant("1")), Right)
	if !ok {
		t.Fatalf("first unification should succeed")
	}
	snapshotLen := len(u.bindings)

	undo2, ok := u.BiUnifyAtoms(ast.NewAtom("q", ast.NewVariable("Y")), Left, ast.NewAtom("q", ast.NewConstant("alice")), Right)
	if !ok {
		t.Fatalf("second unification should succeed")
	}
	u.UndoAll(undo2)
	if len(u.bindings) != snapshotLen {
		t.Errorf("after undo, expected %d bindings, got %d", snapshotLen, len(u.bindings))
	}
	if !u.Apply("X", Left).Equals(ast.NewConstant("1")) {
		t.Errorf("first binding should survive undo of second")
	}
	u.UndoAll(undo1)
	if len(u.bindings) != 0 {
		t.Errorf("expected empty unifier after undoing everything, got %d bindings", len(u.bindings))
	}
}

func TestApplySideReportsAliasedSide(t *testing.T) {
	u := New()
	// X (Left) and Y (Right) unify with each other, both unbound.
	_, ok := u.BiUnifyAtoms(ast.NewAtom("p", ast.NewVariable("X")), Left, ast.NewAtom("p", ast.NewVariable("Y")), Right)
	if !ok {
		t.Fatalf("expected var-var unification to succeed")
	}
	term, side := u.ApplySide("X", Left)
	if _, isVar := term.(ast.Variable); !isVar {
		t.Fatalf("expected X to remain unbound, got %v", term)
	}
	// X's representative should be itself or Y; whichever it is, binding a
	// constant through that (name, side) pair must make both sides resolve.
	undo, ok := u.BiUnifyPositional(
		[]ast.Term{term}, []Side{side},
		[]ast.Term{ast.NewConstant("1")}, []Side{side},
	)
	if !ok {
		t.Fatalf("binding the representative should succeed")
	}
	if !u.Apply("X", Left).Equals(ast.NewConstant("1")) {
		t.Errorf("X should resolve to 1 after binding its representative, got %v", u.Apply("X", Left))
	}
	if !u.Apply("Y", Right).Equals(ast.NewConstant("1")) {
		t.Errorf("Y should resolve to 1 after binding its representative, got %v", u.Apply("Y", Right))
	}
	u.UndoAll(undo)
}

func TestBiUnifyPositionalMixedSides(t *testing.T) {
	u := New()
	terms1 := []ast.Term{ast.NewVariable("X"), ast.NewConstant("1")}
	sides1 := []Side{Left, Right}
	terms2 := []ast.Term{ast.NewConstant("alice"), ast.NewConstant("1")}
	sides2 := []Side{Right, Left}
	undo, ok := u.BiUnifyPositional(terms1, sides1, terms2, sides2)
	if !ok {
		t.Fatalf("expected mixed-side positional unification to succeed")
	}
	if !u.Apply("X", Left).Equals(ast.NewConstant("alice")) {
		t.Errorf("X (Left) = %v, want alice", u.Apply("X", Left))
	}
	u.UndoAll(undo)
}

func TestBiUnifyAtomsFailureLeavesUnifierUntouched(t *testing.T) {
	u := New()
	u.BiUnifyAtoms(ast.NewAtom("p", ast.NewVariable("X")), Left, ast.NewAtom("p", ast.NewConstant("1")), Right)
	before := len(u.bindings)
	if _, ok := u.BiUnifyAtoms(ast.NewAtom("q", ast.NewVariable("Y")), Left, ast.NewAtom("r", ast.NewConstant("1")), Right); ok {
		t.Fatalf("expected table mismatch to fail")
	}
	if len(u.bindings) != before {
		t.Errorf("failed unification attempt should not mutate unifier: before=%d after=%d", before, len(u.bindings))
	}
}
