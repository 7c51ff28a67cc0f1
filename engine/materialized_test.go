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
	"testing"

	"github.com/dlpolicy/theory/ast"
)

func v(name string) ast.Variable { return ast.NewVariable(name) }
func c(name string) ast.Constant { return ast.NewConstant(name) }

func atom(table string, args ...ast.Term) ast.Atom { return ast.NewAtom(table, args...) }

func fact(table string, values ...string) ast.Atom {
	args := make([]ast.Term, len(values))
	for i, val := range values {
		args[i] = c(val)
	}
	return atom(table, args...)
}

func mustSelect(t *testing.T, m *MaterializedRuleTheory, q ast.Formula) []ast.Atom {
	t.Helper()
	results, err := m.Select(q)
	if err != nil {
		t.Fatalf("Select(%v): %v", q, err)
	}
	return results
}

func containsAtom(atoms []ast.Atom, want ast.Atom) bool {
	for _, a := range atoms {
		if a.Equals(want) {
			return true
		}
	}
	return false
}

// TestMaterializedSingleRule mirrors the single-rule derivation scenario:
// inserting a rule with an existing base fact present should immediately
// derive the head, and deleting the base fact should retract it.
func TestMaterializedSingleRule(t *testing.T) {
	m := NewMaterializedRuleTheory()
	if err := m.Insert(fact("owner", "alice", "vm1")); err != nil {
		t.Fatalf("insert base fact: %v", err)
	}

	rule := ast.NewRule(
		atom("can_manage", v("p"), v("r")),
		atom("owner", v("p"), v("r")),
	)
	if err := m.Insert(rule); err != nil {
		t.Fatalf("insert rule: %v", err)
	}

	got := mustSelect(t, m, atom("can_manage", v("p"), v("r")))
	want := fact("can_manage", "alice", "vm1")
	if !containsAtom(got, want) {
		t.Fatalf("can_manage = %v, want to contain %v", got, want)
	}

	if err := m.Delete(fact("owner", "alice", "vm1")); err != nil {
		t.Fatalf("delete base fact: %v", err)
	}
	got = mustSelect(t, m, atom("can_manage", v("p"), v("r")))
	if containsAtom(got, want) {
		t.Fatalf("can_manage still contains %v after retracting owner fact", want)
	}
}

// TestMaterializedMultiDerivationSurvivesOneRetraction reproduces the
// multi-justification accounting scenario at the rule level: a view tuple
// derived two separate ways must survive the retraction of either single
// supporting fact, and only disappear once both are gone.
func TestMaterializedMultiDerivationSurvivesOneRetraction(t *testing.T) {
	m := NewMaterializedRuleTheory()
	rule := ast.NewRule(
		atom("trusted", v("x")),
		atom("admin", v("x")),
	)
	rule2 := ast.NewRule(
		atom("trusted", v("x")),
		atom("owner", v("x")),
	)
	if err := m.Insert(rule); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(rule2); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(fact("admin", "alice")); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(fact("owner", "alice")); err != nil {
		t.Fatal(err)
	}

	want := fact("trusted", "alice")
	got := mustSelect(t, m, atom("trusted", v("x")))
	if !containsAtom(got, want) {
		t.Fatalf("trusted = %v, want to contain %v", got, want)
	}

	if err := m.Delete(fact("admin", "alice")); err != nil {
		t.Fatal(err)
	}
	got = mustSelect(t, m, atom("trusted", v("x")))
	if !containsAtom(got, want) {
		t.Fatalf("trusted(alice) disappeared after retracting only one of two justifications")
	}

	if err := m.Delete(fact("owner", "alice")); err != nil {
		t.Fatal(err)
	}
	got = mustSelect(t, m, atom("trusted", v("x")))
	if containsAtom(got, want) {
		t.Fatalf("trusted(alice) survived after retracting both justifications")
	}
}

// TestMaterializedTransitiveClosure checks recursive propagation: a
// self-referential ancestor rule must derive multi-hop facts and retract
// them when an intermediate link is removed.
func TestMaterializedTransitiveClosure(t *testing.T) {
	m := NewMaterializedRuleTheory()
	rule := ast.NewRule(
		atom("ancestor", v("x"), v("z")),
		atom("parent", v("x"), v("y")),
		atom("ancestor", v("y"), v("z")),
	)
	baseRule := ast.NewRule(
		atom("ancestor", v("x"), v("y")),
		atom("parent", v("x"), v("y")),
	)
	if err := m.Insert(rule); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(baseRule); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(fact("parent", "a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(fact("parent", "b", "c")); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(fact("parent", "c", "d")); err != nil {
		t.Fatal(err)
	}

	got := mustSelect(t, m, atom("ancestor", v("x"), v("y")))
	want := fact("ancestor", "a", "d")
	if !containsAtom(got, want) {
		t.Fatalf("ancestor = %v, want to contain %v", got, want)
	}

	if err := m.Delete(fact("parent", "b", "c")); err != nil {
		t.Fatal(err)
	}
	got = mustSelect(t, m, atom("ancestor", v("x"), v("y")))
	if containsAtom(got, want) {
		t.Fatalf("ancestor(a,d) survived after breaking the chain at b->c")
	}
	stillThere := fact("ancestor", "a", "b")
	if !containsAtom(got, stillThere) {
		t.Fatalf("ancestor(a,b) should survive, got %v", got)
	}
}

// TestMaterializedViewTableReadOnly checks that inserting directly into a
// table that some rule derives is rejected with ErrViewTableReadOnly.
func TestMaterializedViewTableReadOnly(t *testing.T) {
	m := NewMaterializedRuleTheory()
	rule := ast.NewRule(
		atom("can_manage", v("p"), v("r")),
		atom("owner", v("p"), v("r")),
	)
	if err := m.Insert(rule); err != nil {
		t.Fatal(err)
	}
	err := m.Insert(fact("can_manage", "alice", "vm1"))
	if !errors.Is(err, ErrViewTableReadOnly) {
		t.Fatalf("Insert into view table: got %v, want ErrViewTableReadOnly", err)
	}
}

func TestMaterializedExplainBaseFact(t *testing.T) {
	m := NewMaterializedRuleTheory()
	if err := m.Insert(fact("owner", "alice", "vm1")); err != nil {
		t.Fatal(err)
	}
	tree, err := m.Explain(fact("owner", "alice", "vm1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Children) != 0 {
		t.Fatalf("base fact explanation should have no children, got %v", tree.Children)
	}
	if !tree.Root.Equals(fact("owner", "alice", "vm1")) {
		t.Fatalf("tree.Root = %v, want owner(alice, vm1)", tree.Root)
	}
}

func TestMaterializedExplainDerivedFact(t *testing.T) {
	m := NewMaterializedRuleTheory()
	rule := ast.NewRule(
		atom("can_manage", v("p"), v("r")),
		atom("owner", v("p"), v("r")),
	)
	if err := m.Insert(rule); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(fact("owner", "alice", "vm1")); err != nil {
		t.Fatal(err)
	}
	tree, err := m.Explain(fact("can_manage", "alice", "vm1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("derived fact explanation should have one child, got %d", len(tree.Children))
	}
	if !tree.Children[0].Root.Equals(fact("owner", "alice", "vm1")) {
		t.Fatalf("child = %v, want owner(alice, vm1)", tree.Children[0].Root)
	}
}
