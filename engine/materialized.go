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

	"github.com/dlpolicy/theory/ast"
	"github.com/dlpolicy/theory/database"
)

// ErrViewTableReadOnly is returned when external code attempts to insert
// into or delete from a table computed by one or more rules (spec §4.4,
// §7 "Forbidden mutation").
var ErrViewTableReadOnly = errors.New("table is a view and cannot be modified directly")

// MaterializedRuleTheory owns a Database, a DeltaRuleTheory, and a FIFO
// event queue. It implements bottom-up incremental maintenance, including
// recursion, by pushing derived events onto the same queue it drains
// (spec §4.5).
type MaterializedRuleTheory struct {
	db           *database.Database
	delta        *DeltaRuleTheory
	queue        []database.Event
	tracer       *Tracer
	computeDelta DeltaRuleComputer
}

// NewMaterializedRuleTheory constructs an empty MaterializedRuleTheory
// using the standard delta-rule transformation.
func NewMaterializedRuleTheory() *MaterializedRuleTheory {
	return &MaterializedRuleTheory{
		db:           database.New(),
		delta:        NewDeltaRuleTheory(),
		tracer:       NewTracer(),
		computeDelta: ComputeDeltaRules,
	}
}

// Tracer returns this theory's Tracer, so callers can opt tables into
// trace logging.
func (m *MaterializedRuleTheory) Tracer() *Tracer { return m.tracer }

// IsView reports whether table is computed by at least one rule.
func (m *MaterializedRuleTheory) IsView(table string) bool {
	return m.delta.IsView(table)
}

// HasTable implements Includable (spec §4.6 "Includes"): true if table has
// at least one stored tuple, or is computed by a rule (even one that
// currently derives nothing).
func (m *MaterializedRuleTheory) HasTable(table string) bool {
	return m.delta.IsView(table) || len(m.db.Table(table)) > 0
}

// MatchLiteral implements Includable by evaluating literal as a
// single-literal query against the stored database.
func (m *MaterializedRuleTheory) MatchLiteral(literal ast.Atom) []ast.Binding {
	return m.db.TopDownEval([]ast.Atom{literal}, 0, ast.Binding{})
}

// Select delegates to the underlying database (spec §4.5).
func (m *MaterializedRuleTheory) Select(query ast.Formula) ([]ast.Atom, error) {
	switch q := query.(type) {
	case ast.Atom:
		return m.db.Select([]ast.Atom{q}, q), nil
	case ast.Rule:
		return m.db.Select(q.Body, q.Head), nil
	default:
		return nil, fmt.Errorf("materialized theory: query must be an atom or rule, got %T", query)
	}
}

// Insert applies formula as an insertion (spec §4.5).
func (m *MaterializedRuleTheory) Insert(formula ast.Formula) error {
	return m.modify(formula, true)
}

// Delete applies formula as a deletion (spec §4.5).
func (m *MaterializedRuleTheory) Delete(formula ast.Formula) error {
	return m.modify(formula, false)
}

func (m *MaterializedRuleTheory) modify(formula ast.Formula, isInsert bool) error {
	switch f := formula.(type) {
	case ast.Atom:
		if !f.IsGround() {
			return fmt.Errorf("materialized theory: cannot modify with a non-ground atom %v", f)
		}
		if m.delta.IsView(f.Table) {
			return fmt.Errorf("%w: %s", ErrViewTableReadOnly, f.Table)
		}
		values := make([]ast.Constant, len(f.Arguments))
		for i, arg := range f.Arguments {
			values[i] = arg.(ast.Constant)
		}
		tuple := database.NewDBTuple(values, database.NewProofSet(database.Proof{}))
		m.queue = append(m.queue, database.NewEvent(f.Table, tuple, isInsert))
		m.drain()
		return nil
	case ast.Rule:
		bindings := m.db.TopDownEval(f.Body, 0, ast.Binding{})
		m.processNewBindings(bindings, f.Head, isInsert, f)
		m.drain()
		deltas := m.computeDelta([]ast.Rule{f})
		if isInsert {
			for _, d := range deltas {
				m.delta.Insert(d)
			}
			return nil
		}
		return m.delta.DeleteAll(deltas)
	default:
		return fmt.Errorf("materialized theory: formula must be an atom or rule, got %T", formula)
	}
}

// drain is the toplevel data evaluation routine (spec §4.5): dequeue,
// skip noops, otherwise propagate through delta rules before committing the
// event to the database. Propagate-before-commit is required so that
// deletions see the trigger tuple still present while computing the
// literals derived from it.
func (m *MaterializedRuleTheory) drain() {
	for len(m.queue) > 0 {
		event := m.queue[0]
		m.queue = m.queue[1:]
		if m.db.IsNoop(event) {
			m.tracer.Log(event.Table, "MRT", "is noop: "+event.String(), 0)
			continue
		}
		m.propagate(event)
		if event.Insert {
			m.db.Insert(event.Table, event.Tuple)
		} else {
			m.db.Delete(event.Table, event.Tuple)
		}
	}
}

// propagate computes the events generated by event and the delta rules
// triggered by event.Table, and enqueues them (spec §4.5).
func (m *MaterializedRuleTheory) propagate(event database.Event) {
	for _, delta := range m.delta.RulesWithTrigger(event.Table) {
		m.propagateRule(event, delta)
	}
}

// propagateRule computes and enqueues the new events generated by event
// and delta, exactly as described in spec §4.5.
func (m *MaterializedRuleTheory) propagateRule(event database.Event, delta ast.DeltaRule) {
	seed, ok := database.Match(event.Tuple.Values, delta.Trigger, ast.Binding{})
	if !ok {
		return
	}
	newBindings := m.db.TopDownEval(delta.Body, 0, seed)

	insert := event.Insert
	if delta.Trigger.Negated {
		insert = !insert
	}
	m.processNewBindings(newBindings, delta.Head, insert, delta.Origin)
}

// processNewBindings groups bindings by the ground head tuple they produce
// and enqueues one event per group, carrying one Proof per solution in the
// group. This is what makes a derivation with multiple justifications
// collapse into a single Event whose ProofSet the Database then merges
// (spec §4.5).
func (m *MaterializedRuleTheory) processNewBindings(bindings []ast.Binding, head ast.Atom, insert bool, origin ast.Rule) {
	type group struct {
		values []ast.Constant
		proofs database.ProofSet
	}
	var order []string
	byKey := map[string]*group{}
	for _, binding := range bindings {
		plugged := head.Plug(binding)
		if !plugged.IsGround() {
			continue
		}
		values := make([]ast.Constant, len(plugged.Arguments))
		for i, arg := range plugged.Arguments {
			values[i] = arg.(ast.Constant)
		}
		key := plugged.String()
		g, ok := byKey[key]
		if !ok {
			g = &group{values: values}
			byKey[key] = g
			order = append(order, key)
		}
		g.proofs = g.proofs.Union(database.NewProofSet(database.Proof{Binding: binding, Origin: origin}))
	}
	for _, key := range order {
		g := byKey[key]
		tuple := database.NewDBTuple(g.values, g.proofs)
		m.queue = append(m.queue, database.NewEvent(head.Table, tuple, insert))
	}
}

// Explain builds a proof tree for a ground atom query: any one stored proof
// is used (all derivations of a fact are equally valid explanations), and
// the search recurses on each body literal under the bound substitution.
// Negated literals are returned as leaves (spec §4.5).
func (m *MaterializedRuleTheory) Explain(query ast.Atom) (*database.ProofTree, error) {
	if !query.IsGround() {
		return nil, fmt.Errorf("materialized theory: explain requires a ground atom, got %v", query)
	}
	return m.explainAux(query), nil
}

func (m *MaterializedRuleTheory) explainAux(query ast.Atom) *database.ProofTree {
	if query.Negated {
		return &database.ProofTree{Root: query}
	}
	proofs := m.db.Explain(query)
	if len(proofs) == 0 {
		// Not present at all. Base facts do not reach this branch: they carry
		// one trivial proof whose empty origin rule yields no children below.
		return &database.ProofTree{Root: query}
	}
	proof := proofs[0]
	instance := proof.Origin.Plug(proof.Binding)
	children := make([]*database.ProofTree, 0, len(instance.Body))
	for _, lit := range instance.Body {
		children = append(children, m.explainAux(lit))
	}
	return &database.ProofTree{Root: query, Children: children}
}
