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

// Package database implements the table-oriented extensional storage that
// backs the materialized theory: tuples annotated with proof sets, with
// insert/delete, top-down enumeration, matching and explanation (spec §4.3).
package database

import (
	"fmt"

	"github.com/dlpolicy/theory/ast"
)

// DBTuple is a stored fact: an ordered sequence of constants together with
// the set of derivations that currently justify it.
type DBTuple struct {
	Values []ast.Constant
	Proofs ProofSet
}

// NewDBTuple constructs a DBTuple from values with the given proofs.
func NewDBTuple(values []ast.Constant, proofs ProofSet) DBTuple {
	return DBTuple{Values: values, Proofs: proofs}
}

// equalsValues reports whether two tuples carry the same ordered values,
// ignoring their proof sets -- this is "tuple identity" for storage
// purposes, matching DBTuple.__eq__ in the original source.
func (t DBTuple) equalsValues(other DBTuple) bool {
	if len(t.Values) != len(other.Values) {
		return false
	}
	for i, v := range t.Values {
		if !v.Equals(other.Values[i]) {
			return false
		}
	}
	return true
}

func (t DBTuple) String() string {
	return fmt.Sprintf("%v%v", t.Values, t.Proofs)
}

// Match returns a binding that, combined with binding, would make atom
// equal the given ordered values, or false if no such binding exists. This
// is the building block delta-rule propagation uses to bind a trigger
// atom's variables to an incoming event's tuple (spec §4.5).
func Match(values []ast.Constant, atom ast.Atom, binding ast.Binding) (ast.Binding, bool) {
	return DBTuple{Values: values}.match(atom, binding)
}

// match checks this tuple's values against atom under binding: constants
// must agree positionally, and repeated variables in atom must map to the
// same value. On success it returns the set of new bindings it contributed
// (not yet present in binding); on failure it returns nil, false.
func (t DBTuple) match(atom ast.Atom, binding ast.Binding) (ast.Binding, bool) {
	if len(t.Values) != len(atom.Arguments) {
		return nil, false
	}
	newBinding := ast.Binding{}
	for i, arg := range atom.Arguments {
		if v, ok := arg.(ast.Variable); ok {
			if existing, bound := binding[v.VarName]; bound {
				if !existing.Equals(t.Values[i]) {
					return nil, false
				}
				continue
			}
			if existing, bound := newBinding[v.VarName]; bound {
				if !existing.Equals(t.Values[i]) {
					return nil, false
				}
				continue
			}
			newBinding[v.VarName] = t.Values[i]
		} else {
			c := arg.(ast.Constant)
			if !c.Equals(t.Values[i]) {
				return nil, false
			}
		}
	}
	return newBinding, true
}

// Event is a pending change to the database: created only by rule
// propagation or an external mutation (spec §3).
type Event struct {
	Table  string
	Tuple  DBTuple
	Insert bool
}

// NewEvent constructs an Event.
func NewEvent(table string, tuple DBTuple, insert bool) Event {
	return Event{Table: table, Tuple: tuple, Insert: insert}
}

func (e Event) String() string {
	sign := "-"
	if e.Insert {
		sign = "+"
	}
	return fmt.Sprintf("%s%s%v", e.Table, sign, e.Tuple.Values)
}

// Atom renders this event's tuple back into an ast.Atom over e.Table.
func (e Event) Atom() ast.Atom {
	args := make([]ast.Term, len(e.Tuple.Values))
	for i, v := range e.Tuple.Values {
		args[i] = v
	}
	return ast.NewAtom(e.Table, args...)
}

// Database is table-oriented extensional storage: at most one DBTuple per
// distinct tuple value per table (spec §3, §4.3).
type Database struct {
	tables map[string][]DBTuple
}

// New constructs an empty Database.
func New() *Database {
	return &Database{tables: map[string][]DBTuple{}}
}

// TableNames returns the names of tables with at least one stored tuple.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	return names
}

// Table returns the stored tuples for table, or nil if absent. The
// returned slice must not be mutated by callers.
func (db *Database) Table(table string) []DBTuple {
	return db.tables[table]
}

// Insert adds dbtuple to table. If a tuple with identical values already
// exists, its ProofSet is unioned with the incoming proofs; otherwise the
// tuple is appended. Proofs must never be nil (spec §4.3).
func (db *Database) Insert(table string, dbtuple DBTuple) {
	if dbtuple.Proofs == nil {
		panic("database: Insert called with nil proof set")
	}
	rows := db.tables[table]
	for i, existing := range rows {
		if existing.equalsValues(dbtuple) {
			rows[i].Proofs = existing.Proofs.Union(dbtuple.Proofs)
			return
		}
	}
	db.tables[table] = append(rows, dbtuple)
}

// Delete subtracts dbtuple's incoming proofs from the existing tuple's
// ProofSet, by value equality; if the resulting size is zero, the tuple is
// removed from the table entirely (spec §4.3).
func (db *Database) Delete(table string, dbtuple DBTuple) {
	rows := db.tables[table]
	for i, existing := range rows {
		if existing.equalsValues(dbtuple) {
			remaining := existing.Proofs.Difference(dbtuple.Proofs)
			if len(remaining) == 0 {
				db.tables[table] = append(rows[:i], rows[i+1:]...)
				if len(db.tables[table]) == 0 {
					delete(db.tables, table)
				}
				return
			}
			rows[i].Proofs = remaining
			return
		}
	}
}

// IsNoop reports whether applying event would not change stored state
// (spec §4.3): for inserts, the tuple already exists and the incoming
// proofs are a subset of the stored set; for deletes, the tuple is absent,
// or the proofs to remove are absent from the stored set.
func (db *Database) IsNoop(event Event) bool {
	rows, ok := db.tables[event.Table]
	if !ok {
		return !event.Insert
	}
	for _, existing := range rows {
		if existing.equalsValues(event.Tuple) {
			if event.Insert {
				return event.Tuple.Proofs.IsSubsetOf(existing.Proofs)
			}
			// Deleting: noop iff none of the proofs-to-remove are present.
			for _, p := range event.Tuple.Proofs {
				if existing.Proofs.Contains(p) {
					return false
				}
			}
			return true
		}
	}
	return !event.Insert
}

// matchesAtom returns one binding extension per stored tuple whose
// constants agree with already-bound variables and whose new variable
// bindings are consistent with repeated variables in the atom (spec §4.3).
func (db *Database) matchesAtom(atom ast.Atom, binding ast.Binding) []ast.Binding {
	rows, ok := db.tables[atom.Table]
	if !ok {
		return nil
	}
	var results []ast.Binding
	for _, tuple := range rows {
		if nb, ok := tuple.match(atom, binding); ok {
			results = append(results, nb)
		}
	}
	return results
}

// matches returns one binding extension per match for a positive literal;
// for a negated literal it returns either nil (lookup succeeded, so the
// negation fails) or a single empty binding (lookup found nothing, so the
// negation succeeds). Callers must ensure all of literal's variables are
// already bound when literal is negated (spec §4.3).
func (db *Database) matches(literal ast.Atom, binding ast.Binding) []ast.Binding {
	found := db.matchesAtom(literal, binding)
	if literal.Negated {
		if len(found) > 0 {
			return nil
		}
		return []ast.Binding{{}}
	}
	return found
}

// TopDownEval computes, by sequential left-to-right proof search, every
// extension of binding that makes literals[index:] true against the stored
// tuples (spec §4.3). It threads binding mutably through recursion and
// restores it exactly before returning, so callers may reuse the map.
func (db *Database) TopDownEval(literals []ast.Atom, index int, binding ast.Binding) []ast.Binding {
	if index > len(literals)-1 {
		return []ast.Binding{binding.Clone()}
	}
	lit := literals[index]
	dataBindings := db.matches(lit, binding)
	if len(dataBindings) == 0 {
		return nil
	}

	var results []ast.Binding
	for _, dataBinding := range dataBindings {
		for k, v := range dataBinding {
			binding[k] = v
		}
		if index == len(literals)-1 {
			results = append(results, binding.Clone())
		} else {
			results = append(results, db.TopDownEval(literals, index+1, binding)...)
		}
		for k := range dataBinding {
			delete(binding, k)
		}
	}
	return results
}

// Select evaluates a ground or open query. If query is an atom, it
// enumerates matching stored tuples under an empty binding; the query atom
// is itself treated as a one-literal body, mirroring the original source's
// handling of bare-atom queries vs. rule queries.
func (db *Database) Select(literals []ast.Atom, head ast.Atom) []ast.Atom {
	bindings := db.TopDownEval(literals, 0, ast.Binding{})
	results := make([]ast.Atom, len(bindings))
	for i, b := range bindings {
		results[i] = head.Plug(b)
	}
	return results
}

// Explain returns the stored ProofSet for a ground atom, or an empty
// ProofSet if the atom is not ground or not present (spec §4.3).
func (db *Database) Explain(atom ast.Atom) ProofSet {
	if !atom.IsGround() {
		return nil
	}
	rows, ok := db.tables[atom.Table]
	if !ok {
		return nil
	}
	values := make([]ast.Constant, len(atom.Arguments))
	for i, arg := range atom.Arguments {
		values[i] = arg.(ast.Constant)
	}
	probe := DBTuple{Values: values}
	for _, existing := range rows {
		if existing.equalsValues(probe) {
			return existing.Proofs
		}
	}
	return nil
}
