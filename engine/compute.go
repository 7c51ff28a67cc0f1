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

import "github.com/dlpolicy/theory/ast"

// DeltaRuleComputer turns a set of Rules into the DeltaRules that
// incrementally maintain their heads. Spec §6 names this
// "compute_delta_rules" and treats it as supplied by the external
// compiler; ComputeDeltaRules below is the standard transformation and
// serves as the default for MaterializedRuleTheory.
type DeltaRuleComputer func(rules []ast.Rule) []ast.DeltaRule

// ComputeDeltaRules produces one DeltaRule per body literal of each rule:
// that literal becomes the trigger, and the delta rule's body is the
// remaining literals in their original order. Facts (empty-body rules)
// produce no delta rules -- they are base tuples, not views.
func ComputeDeltaRules(rules []ast.Rule) []ast.DeltaRule {
	var deltas []ast.DeltaRule
	for _, rule := range rules {
		for i, trigger := range rule.Body {
			rest := make([]ast.Atom, 0, len(rule.Body)-1)
			rest = append(rest, rule.Body[:i]...)
			rest = append(rest, rule.Body[i+1:]...)
			deltas = append(deltas, ast.DeltaRule{
				Trigger: trigger,
				Head:    rule.Head,
				Body:    rest,
				Origin:  rule,
			})
		}
	}
	return deltas
}
