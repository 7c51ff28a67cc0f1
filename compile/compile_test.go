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

package compile

import (
	"strings"
	"testing"

	"github.com/dlpolicy/theory/ast"
	"github.com/google/go-cmp/cmp"
)

func TestParseFact(t *testing.T) {
	got, err := Parse(`owner("alice", "vm1").`)
	if err != nil {
		t.Fatal(err)
	}
	want := []ast.Formula{ast.NewAtom("owner", ast.NewConstant("alice"), ast.NewConstant("vm1"))}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRuleWithNegation(t *testing.T) {
	got, err := Parse(`allow(X) :- user(X), not banned(X).`)
	if err != nil {
		t.Fatal(err)
	}
	want := []ast.Formula{ast.NewRule(
		ast.NewAtom("allow", ast.NewVariable("X")),
		ast.NewAtom("user", ast.NewVariable("X")),
		ast.NewNegatedAtom("banned", ast.NewVariable("X")),
	)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMultipleStatements(t *testing.T) {
	got, err := Parse(`p(1). q(2). r(X) :- p(X).`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
}

func TestParseSyntaxError(t *testing.T) {
	if _, err := Parse(`p(1, 2`); err == nil {
		t.Fatal("expected a syntax error for an unterminated atom")
	}
}

// TestParseAggregatesMultipleErrors checks that two independent syntax
// errors in one source are both reported, rather than only the first.
func TestParseAggregatesMultipleErrors(t *testing.T) {
	_, err := Parse(`p(1, 2. q(). r(3`)
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	msg := err.Error()
	if n := strings.Count(msg, "compile:"); n < 2 {
		t.Fatalf("expected both syntax errors in the aggregated message, got %d in %q", n, msg)
	}
}

func TestParseOneRejectsMultipleStatements(t *testing.T) {
	if _, err := ParseOne(`p(1). q(2).`); err == nil {
		t.Fatal("expected ParseOne to reject more than one statement")
	}
}

func TestParseOneRejectsEmptyInput(t *testing.T) {
	if _, err := ParseOne(``); err == nil {
		t.Fatal("expected ParseOne to reject empty input")
	}
}

func TestTextCompilerJoinsArgs(t *testing.T) {
	compiled, err := TextCompiler{}.Compile([]string{`p(1).`, `q(2).`})
	if err != nil {
		t.Fatal(err)
	}
	if len(compiled.Theory) != 2 {
		t.Fatalf("len(compiled.Theory) = %d, want 2", len(compiled.Theory))
	}
}
