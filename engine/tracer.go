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

// Package engine implements bottom-up incremental maintenance
// (MaterializedRuleTheory) and top-down resolution (NonrecursiveRuleTheory)
// over the ast/database/unify primitives (spec §4.4-§4.6).
package engine

import (
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/golang/glog"
)

// wildcardTable traces every table when present in a Tracer's table set.
const wildcardTable = "*"

// Tracer records which tables are being traced and forwards log lines for
// them, indented by search depth (spec §4.6, §9: "Tracing is layered").
// Forwarding goes through glog.V(1) so that tracing a busy materialized
// theory does not cost anything unless the process is run with -v=1.
type Tracer struct {
	tables stringset.Set
}

// NewTracer constructs a Tracer with no traced tables.
func NewTracer() *Tracer {
	return &Tracer{tables: stringset.New()}
}

// Trace adds table to the set of traced tables. Passing "*" traces every
// table.
func (t *Tracer) Trace(table string) {
	t.tables.Add(table)
}

// IsTraced reports whether table should be logged, either because it was
// named explicitly or because "*" was traced.
func (t *Tracer) IsTraced(table string) bool {
	return t.tables.Contains(table) || t.tables.Contains(wildcardTable)
}

// Log emits msg for table at the given depth, indented with "| " per level,
// if and only if table is traced.
func (t *Tracer) Log(table, component, msg string, depth int) {
	if !t.IsTraced(table) {
		return
	}
	indent := strings.Repeat("| ", depth)
	glog.V(1).Infof("%s: %s%s", component, indent, msg)
}
