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

package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dlpolicy/theory/ast"
)

// Proof is a single justification for a stored tuple: the binding that was
// used, and the rule that produced it. Base facts carry one trivial Proof
// with a nil binding and zero-value Origin (spec §3).
type Proof struct {
	Binding ast.Binding
	Origin  ast.Rule
}

// Equals compares both the binding (as a map from variable name to term)
// and the originating rule, per spec §4.2.
func (p Proof) Equals(other Proof) bool {
	if len(p.Binding) != len(other.Binding) {
		return false
	}
	for k, v := range p.Binding {
		ov, ok := other.Binding[k]
		if !ok || !v.Equals(ov) {
			return false
		}
	}
	return p.Origin.Equals(other.Origin)
}

// String renders the proof as apply(binding, rule).
func (p Proof) String() string {
	keys := make([]string, 0, len(p.Binding))
	for k := range p.Binding {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%s", k, p.Binding[k])
	}
	return fmt.Sprintf("apply({%s}, %s)", strings.Join(parts, ", "), p.Origin)
}

// ProofSet is the collection of derivations currently supporting a stored
// fact (spec §3, §4.2). Its size doubles as a reference count of distinct
// derivations: a fact is present iff its ProofSet is non-empty.
type ProofSet []Proof

// NewProofSet constructs a ProofSet from the given proofs, deduplicating by
// value as Union would.
func NewProofSet(proofs ...Proof) ProofSet {
	var ps ProofSet
	return ps.Union(ProofSet(proofs))
}

// Contains reports whether p is present (by Proof.Equals) in the set.
func (ps ProofSet) Contains(p Proof) bool {
	for _, existing := range ps {
		if existing.Equals(p) {
			return true
		}
	}
	return false
}

// Union returns a new ProofSet containing every proof of ps, plus every
// proof of other not already equal to an existing member (spec §4.2: union
// is deduplicated by value, not a literal multiset concatenation).
func (ps ProofSet) Union(other ProofSet) ProofSet {
	result := make(ProofSet, len(ps), len(ps)+len(other))
	copy(result, ps)
	for _, p := range other {
		if !result.Contains(p) {
			result = append(result, p)
		}
	}
	return result
}

// Difference returns a new ProofSet with every proof in other removed from
// ps, by value equality.
func (ps ProofSet) Difference(other ProofSet) ProofSet {
	var result ProofSet
	for _, p := range ps {
		if !other.Contains(p) {
			result = append(result, p)
		}
	}
	return result
}

// IsSubsetOf reports whether every proof in ps is also in other.
func (ps ProofSet) IsSubsetOf(other ProofSet) bool {
	for _, p := range ps {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}

// String renders the proof set as {p1,p2,...}.
func (ps ProofSet) String() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ProofTree is an explanation that spans rules: a root Atom together with
// the proofs of each of the literals that justified it. Leaves (base facts
// or negated atoms) have no children (spec §3, §4.5).
type ProofTree struct {
	Root     ast.Atom
	Children []*ProofTree
}

// String renders the proof tree with one indented line per node.
func (t *ProofTree) String() string {
	var sb strings.Builder
	t.writeTree(&sb, 0)
	return sb.String()
}

func (t *ProofTree) writeTree(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat(" ", depth))
	sb.WriteString(t.Root.String())
	sb.WriteByte('\n')
	for _, child := range t.Children {
		child.writeTree(sb, depth+1)
	}
}
