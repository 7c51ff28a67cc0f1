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

// Package dispatch is the façade that wires the well-known targets
// (classification, service, action) together and routes insert, delete,
// select and explain requests to the right theory by symbolic name (spec
// §4.7, §6).
package dispatch

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"github.com/dlpolicy/theory/ast"
	"github.com/dlpolicy/theory/compile"
	"github.com/dlpolicy/theory/database"
	"github.com/dlpolicy/theory/engine"
)

// Sentinel errors, matching spec.md §7's error kinds. Callers should use
// errors.Is against these, since concrete errors are always wrapped with
// additional context via fmt.Errorf("%w: ...", ...).
var (
	ErrUnknownTarget     = errors.New("dispatch: unknown target")
	ErrForbiddenMutation = errors.New("dispatch: forbidden mutation")
	ErrIllFormedQuery    = errors.New("dispatch: ill-formed query")
	ErrUnsafeNegation    = errors.New("dispatch: unsafe negation")
	ErrCompiler          = errors.New("dispatch: compiler error")
	ErrNotImplemented    = errors.New("dispatch: not implemented")
)

const (
	// Classification is the default target: a materialized theory.
	Classification = "classification"
	// Service is a non-recursive theory that includes Classification.
	Service = "service"
	// Action is a non-recursive theory that includes Classification.
	Action = "action"
)

// theory is the capability surface the dispatcher needs from a target,
// independent of whether the underlying implementation is materialized or
// non-recursive (spec §4.7's "abstract Theory capability").
type theory struct {
	insert  func(ast.Formula) error
	delete  func(ast.Formula) error
	selectQ func(ast.Formula, int) ([]ast.Atom, error)
	explain func(ast.Atom) (*database.ProofTree, error)
}

// Engine wires the three well-known targets and dispatches by name (spec
// §4.7). The zero value is not usable; construct with New.
type Engine struct {
	classification *engine.MaterializedRuleTheory
	service        *engine.NonrecursiveRuleTheory
	action         *engine.NonrecursiveRuleTheory
	targets        map[string]theory
	compiler       compile.Compiler
}

// New constructs an Engine with the three well-known targets wired exactly
// as spec.md §4.7 describes: classification is materialized; service and
// action are non-recursive theories that each include classification.
// compiler is used to parse string-form formulas passed to Insert and
// Delete; pass compile.TextCompiler{} for the reference syntax. String
// queries passed to Select and Explain are always parsed with
// compile.ParseOne, in the reference syntax.
func New(compiler compile.Compiler) *Engine {
	classification := engine.NewMaterializedRuleTheory()
	service := engine.NewNonrecursiveRuleTheory()
	action := engine.NewNonrecursiveRuleTheory()
	service.Include(classification)
	action.Include(classification)

	e := &Engine{
		classification: classification,
		service:        service,
		action:         action,
		compiler:       compiler,
	}
	e.targets = map[string]theory{
		Classification: {
			insert: classification.Insert,
			delete: classification.Delete,
			selectQ: func(q ast.Formula, _ int) ([]ast.Atom, error) {
				return classification.Select(q)
			},
			explain: classification.Explain,
		},
		Service: {
			insert:  service.Insert,
			delete:  service.Delete,
			selectQ: service.Select,
			explain: service.Explain,
		},
		Action: {
			insert:  action.Insert,
			delete:  action.Delete,
			selectQ: action.Select,
			explain: action.Explain,
		},
	}
	return e
}

// Classification returns the classification theory directly, for callers
// that want to opt tables into tracing or inspect it beyond the dispatch
// surface.
func (e *Engine) Classification() *engine.MaterializedRuleTheory { return e.classification }

// Service returns the service theory directly.
func (e *Engine) Service() *engine.NonrecursiveRuleTheory { return e.service }

// Action returns the action theory directly.
func (e *Engine) Action() *engine.NonrecursiveRuleTheory { return e.action }

func (e *Engine) target(name string) (theory, error) {
	if name == "" {
		name = Classification
	}
	t, ok := e.targets[name]
	if !ok {
		return theory{}, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return t, nil
}

// toFormulas normalizes formula into one or more ast.Formula values, for use
// by Insert and Delete: a string may carry an entire theory (spec.md §6
// treats insert/load the same way), so every statement it contains applies.
func (e *Engine) toFormulas(formula any) ([]ast.Formula, error) {
	switch f := formula.(type) {
	case string:
		compiled, err := e.compiler.Compile([]string{f})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCompiler, err)
		}
		return compiled.Theory, nil
	default:
		single, err := e.toSingleFormula(formula)
		if err != nil {
			return nil, err
		}
		return []ast.Formula{single}, nil
	}
}

// toSingleFormula normalizes query into exactly one ast.Formula, for use by
// Select and Explain: a string must be exactly one statement (spec.md §6
// "Queries can have only 1 statement").
func (e *Engine) toSingleFormula(query any) (ast.Formula, error) {
	switch f := query.(type) {
	case ast.Formula:
		return f, nil
	case ast.Atom:
		return f, nil
	case ast.Rule:
		return f, nil
	case string:
		parsed, err := compile.ParseOne(f)
		if err != nil {
			if errors.Is(err, compile.ErrStatementCount) {
				return nil, fmt.Errorf("%w: %v", ErrIllFormedQuery, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrCompiler, err)
		}
		return parsed, nil
	case []any:
		return tupleToAtom(f)
	default:
		return nil, fmt.Errorf("%w: formula has unsupported type %T", ErrIllFormedQuery, query)
	}
}

// tupleToAtom converts a table-tuple shorthand ("p", "1", "2") into the
// atom p(1,2), per SPEC_FULL.md §12 (mirroring Runtime.tuple_to_atom).
func tupleToAtom(tuple []any) (ast.Atom, error) {
	if len(tuple) == 0 {
		return ast.Atom{}, fmt.Errorf("%w: empty table-tuple", ErrIllFormedQuery)
	}
	table, ok := tuple[0].(string)
	if !ok {
		return ast.Atom{}, fmt.Errorf("%w: table-tuple's first element must be a string table name", ErrIllFormedQuery)
	}
	args := make([]ast.Term, len(tuple)-1)
	for i, v := range tuple[1:] {
		switch val := v.(type) {
		case ast.Term:
			args[i] = val
		case string:
			args[i] = ast.NewConstant(val)
		default:
			args[i] = ast.NewConstant(fmt.Sprint(val))
		}
	}
	return ast.NewAtom(table, args...), nil
}

// Insert applies formula as an insertion against target (default
// classification). Returns ErrForbiddenMutation if the formula targets a
// view table.
func (e *Engine) Insert(formula any, target string) error {
	t, err := e.target(target)
	if err != nil {
		return err
	}
	formulas, err := e.toFormulas(formula)
	if err != nil {
		return err
	}
	for _, f := range formulas {
		if err := t.insert(f); err != nil {
			if errors.Is(err, engine.ErrViewTableReadOnly) {
				return fmt.Errorf("%w: %v", ErrForbiddenMutation, err)
			}
			return err
		}
	}
	return nil
}

// Delete applies formula as a deletion against target (default
// classification).
func (e *Engine) Delete(formula any, target string) error {
	t, err := e.target(target)
	if err != nil {
		return err
	}
	formulas, err := e.toFormulas(formula)
	if err != nil {
		return err
	}
	for _, f := range formulas {
		if err := t.delete(f); err != nil {
			if errors.Is(err, engine.ErrViewTableReadOnly) {
				return fmt.Errorf("%w: %v", ErrForbiddenMutation, err)
			}
			return err
		}
	}
	return nil
}

// Select evaluates query against target (default classification). A string
// query must be exactly one statement (spec.md §4.7 "Queries can have only
// 1 statement").
func (e *Engine) Select(query any, target string) ([]ast.Atom, error) {
	t, err := e.target(target)
	if err != nil {
		return nil, err
	}
	f, err := e.toSingleFormula(query)
	if err != nil {
		return nil, err
	}
	results, err := t.selectQ(f, 0)
	if err != nil {
		if errors.Is(err, engine.ErrUnsafeNegation) {
			return nil, fmt.Errorf("%w: %v", ErrUnsafeNegation, err)
		}
		return nil, err
	}
	return results, nil
}

// Explain returns a proof tree for a ground atom query against target
// (default classification). Non-atomic or non-ground explain queries are
// rejected with ErrIllFormedQuery (spec.md §4.7 "Queries must be atomic").
func (e *Engine) Explain(query any, target string) (*database.ProofTree, error) {
	t, err := e.target(target)
	if err != nil {
		return nil, err
	}
	f, err := e.toSingleFormula(query)
	if err != nil {
		return nil, err
	}
	atom, ok := f.(ast.Atom)
	if !ok {
		return nil, fmt.Errorf("%w: explain query must be a single atom", ErrIllFormedQuery)
	}
	if !atom.IsGround() {
		return nil, fmt.Errorf("%w: explain query must be ground", ErrIllFormedQuery)
	}
	tree, err := t.explain(atom)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// LoadFile compiles the file at path and inserts every resulting formula
// into target, in source order. Facts and rules may be freely interleaved.
// A formula that fails to insert (e.g. it targets a view table) does not
// stop the rest of the batch: every failure is collected with multierr and
// returned together, so one bad line in a large policy file does not hide
// the good ones.
func (e *Engine) LoadFile(path, target string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dispatch: reading %s: %w", path, err)
	}
	compiled, err := e.compiler.Compile([]string{string(source)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompiler, err)
	}
	glog.V(2).Infof("dispatch: loaded %d statements from %s", len(compiled.Theory), path)
	var errs error
	for _, formula := range compiled.Theory {
		if err := e.Insert(formula, target); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Abduce is declared but unimplemented in the original source this engine
// is modeled on (spec.md §7 "not implemented").
func (e *Engine) Abduce(query any, target string) (ast.Formula, error) {
	return nil, ErrNotImplemented
}
