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
	"go.uber.org/multierr"

	"github.com/dlpolicy/theory/ast"
)

// DeltaRuleTheory indexes DeltaRules by trigger table, and tracks which
// tables are views -- tables whose contents are fully determined by rules
// and therefore not directly writable (spec §4.4).
type DeltaRuleTheory struct {
	triggerIndex map[string][]ast.DeltaRule
	views        map[string]int
}

// NewDeltaRuleTheory constructs an empty DeltaRuleTheory.
func NewDeltaRuleTheory() *DeltaRuleTheory {
	return &DeltaRuleTheory{
		triggerIndex: map[string][]ast.DeltaRule{},
		views:        map[string]int{},
	}
}

// Insert adds delta to the trigger index and increments the view counter
// for its head table.
func (d *DeltaRuleTheory) Insert(delta ast.DeltaRule) {
	d.views[delta.Head.Table]++
	d.triggerIndex[delta.Trigger.Table] = append(d.triggerIndex[delta.Trigger.Table], delta)
}

// Delete removes delta from the trigger index and decrements the view
// counter for its head table, removing the entry once it reaches zero. If
// delta is not present, nothing changes and a "rule not found" error is
// returned. Deleting several delta rules derived
// from one retracted Rule can surface more than one "rule not found"
// condition; callers that batch deletions should combine errors with
// multierr as DeltaRuleTheory.DeleteAll does.
func (d *DeltaRuleTheory) Delete(delta ast.DeltaRule) error {
	rules, ok := d.triggerIndex[delta.Trigger.Table]
	if !ok {
		return errDeltaRuleNotFound(delta)
	}
	for i, existing := range rules {
		if existing.Equals(delta) {
			d.triggerIndex[delta.Trigger.Table] = append(rules[:i], rules[i+1:]...)
			if len(d.triggerIndex[delta.Trigger.Table]) == 0 {
				delete(d.triggerIndex, delta.Trigger.Table)
			}
			if d.views[delta.Head.Table] > 0 {
				d.views[delta.Head.Table]--
				if d.views[delta.Head.Table] == 0 {
					delete(d.views, delta.Head.Table)
				}
			}
			return nil
		}
	}
	return errDeltaRuleNotFound(delta)
}

// DeleteAll deletes every delta rule in deltas, aggregating any "not found"
// errors with multierr rather than stopping at the first one -- retracting
// a compiled rule's delta-rule set should remove everything it can even if
// one entry was already gone.
func (d *DeltaRuleTheory) DeleteAll(deltas []ast.DeltaRule) error {
	var errs error
	for _, delta := range deltas {
		if err := d.Delete(delta); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// RulesWithTrigger returns the delta rules whose trigger atom sits on
// table, or nil if there are none.
func (d *DeltaRuleTheory) RulesWithTrigger(table string) []ast.DeltaRule {
	return d.triggerIndex[table]
}

// IsView reports whether table is computed by at least one delta rule, and
// is therefore read-only to external mutation (spec §4.4).
func (d *DeltaRuleTheory) IsView(table string) bool {
	return d.views[table] > 0
}

func errDeltaRuleNotFound(delta ast.DeltaRule) error {
	return &deltaRuleNotFoundError{delta}
}

type deltaRuleNotFoundError struct {
	delta ast.DeltaRule
}

func (e *deltaRuleNotFoundError) Error() string {
	return "delta rule not found: " + e.delta.String()
}
