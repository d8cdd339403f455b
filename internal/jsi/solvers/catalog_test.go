package solvers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tjper/jsi/internal/jsi"
)

// fixture lays out a state directory and a fake PATH with the passed
// executables.
func fixture(t *testing.T, definitions string, executables ...string) jsi.Paths {
	t.Helper()

	root := t.TempDir()
	paths := jsi.NewPaths(filepath.Join(root, ".jsi"))

	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range executables {
		script := []byte("#!/bin/sh\necho unknown\n")
		if err := os.WriteFile(filepath.Join(bin, name), script, 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin)

	if definitions != "" {
		if err := os.MkdirAll(paths.Root(), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(paths.Solvers(), []byte(definitions), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

const twoSolvers = `{
  "solvers": [
    {"name": "alpha", "executable": "alpha-solver", "args": ["{file}"], "enabled": true, "model_arg": ["--produce-models"]},
    {"name": "beta", "executable": "beta-solver", "args": ["--smt2", "{file}"], "enabled": true},
    {"name": "gamma", "executable": "gamma-solver", "args": ["{file}"], "enabled": false}
  ]
}`

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		definitions string
		expNames    []string
		expErr      error
	}{
		"user definitions": {
			definitions: twoSolvers,
			expNames:    []string{"alpha", "beta", "gamma"},
		},
		"defaults when absent": {
			definitions: "",
			expNames:    []string{"z3", "cvc5", "yices", "bitwuzla", "stp", "mathsat", "always-sat", "always-unsat"},
		},
		"invalid definition": {
			definitions: `{"solvers": [{"name": "", "executable": "x"}]}`,
			expErr:      ErrInvalidDefinition,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			paths := fixture(t, test.definitions)

			catalog, err := Load(paths)
			if test.expErr != nil {
				if !errors.Is(err, test.expErr) {
					t.Errorf("unexpected error; actual: %v, expected: %v", err, test.expErr)
				}
				return
			}
			if err != nil {
				t.Error(err)
				return
			}

			names := catalog.Names()
			if len(names) != len(test.expNames) {
				t.Errorf("unexpected solver count; actual: %d, expected: %d", len(names), len(test.expNames))
				return
			}
			for i := range names {
				if names[i] != test.expNames[i] {
					t.Errorf("unexpected solver; index: %d, actual: %s, expected: %s", i, names[i], test.expNames[i])
				}
			}
		})
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	paths := fixture(t, `{"solvers": [`)
	if _, err := Load(paths); err == nil {
		t.Error("expected malformed definitions to error")
	}
}

func TestResolve(t *testing.T) {
	input := "/tmp/problem.smt2"

	type expected struct {
		names []string
		err   error
	}
	tests := map[string]struct {
		sequence    []string
		executables []string
		opts        ResolveOptions
		exp         expected
	}{
		"enabled in declaration order": {
			executables: []string{"alpha-solver", "beta-solver", "gamma-solver"},
			exp:         expected{names: []string{"alpha", "beta"}},
		},
		"sequence selects and orders": {
			sequence:    []string{"beta", "alpha"},
			executables: []string{"alpha-solver", "beta-solver"},
			exp:         expected{names: []string{"beta", "alpha"}},
		},
		"sequence includes disabled": {
			sequence:    []string{"gamma"},
			executables: []string{"gamma-solver"},
			exp:         expected{names: []string{"gamma"}},
		},
		"unknown name": {
			sequence:    []string{"alpha", "omega"},
			executables: []string{"alpha-solver"},
			exp:         expected{err: ErrUnknownSolver},
		},
		"unresolvable skipped": {
			executables: []string{"beta-solver"},
			exp:         expected{names: []string{"beta"}},
		},
		"nothing resolvable": {
			executables: nil,
			exp:         expected{err: ErrNoSolvers},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			paths := fixture(t, twoSolvers, test.executables...)

			catalog, err := Load(paths)
			if err != nil {
				t.Fatal(err)
			}

			descriptors, err := catalog.Resolve(test.sequence, input, test.opts)
			if test.exp.err != nil {
				if !errors.Is(err, test.exp.err) {
					t.Errorf("unexpected error; actual: %v, expected: %v", err, test.exp.err)
				}
				return
			}
			if err != nil {
				t.Error(err)
				return
			}

			if len(descriptors) != len(test.exp.names) {
				t.Errorf("unexpected descriptor count; actual: %d, expected: %d", len(descriptors), len(test.exp.names))
				return
			}
			for i, desc := range descriptors {
				if desc.Name != test.exp.names[i] {
					t.Errorf("unexpected descriptor; index: %d, actual: %s, expected: %s", i, desc.Name, test.exp.names[i])
				}
			}
		})
	}
}

func TestResolveDescriptor(t *testing.T) {
	input := "/tmp/problem.smt2"
	paths := fixture(t, twoSolvers, "alpha-solver", "beta-solver")

	catalog, err := Load(paths)
	if err != nil {
		t.Fatal(err)
	}

	descriptors, err := catalog.Resolve([]string{"beta", "alpha"}, input, ResolveOptions{Model: true})
	if err != nil {
		t.Fatal(err)
	}

	beta := descriptors[0]
	if len(beta.Args) != 2 || beta.Args[0] != "--smt2" || beta.Args[1] != input {
		t.Errorf("unexpected beta args; actual: %v", beta.Args)
	}
	if beta.StdoutPath != "/tmp/problem.smt2.beta.out" {
		t.Errorf("unexpected stdout path; actual: %s", beta.StdoutPath)
	}

	// Model resolution appends alpha's model arg; beta has none.
	alpha := descriptors[1]
	if len(alpha.Args) != 2 || alpha.Args[1] != "--produce-models" {
		t.Errorf("unexpected alpha args; actual: %v", alpha.Args)
	}
	if !filepath.IsAbs(alpha.Path) {
		t.Errorf("expected absolute executable path; actual: %s", alpha.Path)
	}
}

func TestResolveWritesCache(t *testing.T) {
	paths := fixture(t, twoSolvers, "alpha-solver", "beta-solver")

	catalog, err := Load(paths)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.Resolve(nil, "/tmp/problem.smt2", ResolveOptions{}); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(paths.Cache())
	if err != nil {
		t.Fatalf("expected cache file; error: %v", err)
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(b, &entries); err != nil {
		t.Fatalf("expected valid cache JSON; error: %v", err)
	}
	if _, ok := entries["alpha"]; !ok {
		t.Errorf("expected alpha cache entry; entries: %v", entries)
	}
}
