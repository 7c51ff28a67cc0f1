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

// Binary policyctl is an interactive shell over a dispatch.Engine: load a
// policy file, then insert, delete, select and explain against its three
// well-known targets from the command line.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/dlpolicy/theory/compile"
	"github.com/dlpolicy/theory/dispatch"
)

var (
	loadFile = flag.String("load", "", "policy file to load into the classification target at startup")
	trace    = flag.String("trace", "", "comma-separated list of tables to trace (use * for every table)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: policyctl [flags]\n\n")
		fmt.Fprintf(os.Stderr, "An interactive shell for the policy evaluation engine.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands (one per line):\n")
		fmt.Fprintf(os.Stderr, "  insert[@target] <fact-or-rule>.\n")
		fmt.Fprintf(os.Stderr, "  delete[@target] <fact-or-rule>.\n")
		fmt.Fprintf(os.Stderr, "  select[@target] <query>.\n")
		fmt.Fprintf(os.Stderr, "  explain[@target] <ground-atom>.\n")
		fmt.Fprintf(os.Stderr, "  load[@target] <path>\n")
		fmt.Fprintf(os.Stderr, "  quit\n")
	}
	flag.Parse()
	defer glog.Flush()

	e := dispatch.New(compile.TextCompiler{})

	for _, table := range splitCSV(*trace) {
		e.Classification().Tracer().Trace(table)
	}

	if *loadFile != "" {
		if err := e.LoadFile(*loadFile, dispatch.Classification); err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", *loadFile, err)
			os.Exit(1)
		}
	}

	repl(e, os.Stdin, os.Stdout)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// repl reads one command per line from in and writes responses to out,
// until EOF or a "quit" command.
func repl(e *dispatch.Engine, in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := dispatchLine(e, line, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func dispatchLine(e *dispatch.Engine, line string, out *os.File) error {
	verb, target, rest, err := parseCommand(line)
	if err != nil {
		return err
	}
	switch verb {
	case "insert":
		return e.Insert(rest, target)
	case "delete":
		return e.Delete(rest, target)
	case "select":
		results, err := e.Select(rest, target)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Fprintln(out, r.String())
		}
		return nil
	case "explain":
		tree, err := e.Explain(rest, target)
		if err != nil {
			return err
		}
		fmt.Fprint(out, tree.String())
		return nil
	case "load":
		return e.LoadFile(strings.TrimSpace(rest), target)
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

// parseCommand splits a line of the form "verb[@target] rest" into its
// parts.
func parseCommand(line string) (verb, target, rest string, err error) {
	fields := strings.SplitN(line, " ", 2)
	head := fields[0]
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	if at := strings.Index(head, "@"); at >= 0 {
		verb = head[:at]
		target = head[at+1:]
	} else {
		verb = head
	}
	if verb == "" {
		return "", "", "", fmt.Errorf("empty command")
	}
	return verb, target, rest, nil
}
