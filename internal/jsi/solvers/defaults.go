package solvers

// Defaults returns the bundled solver definitions used when no user
// definitions file exists. The set covers the common SMT-LIB 2 solvers with
// their standard invocations; entries for solvers not installed on the host
// are skipped at resolution time.
func Defaults() []Definition {
	return []Definition{
		{
			Name:       "z3",
			Executable: "z3",
			Args:       []string{FileToken},
			Enabled:    true,
			ModelArg:   []string{"model=true"},
		},
		{
			Name:       "cvc5",
			Executable: "cvc5",
			Args:       []string{FileToken},
			Enabled:    true,
			ModelArg:   []string{"--produce-models"},
		},
		{
			Name:       "yices",
			Executable: "yices-smt2",
			Args:       []string{FileToken},
			Enabled:    true,
		},
		{
			Name:       "bitwuzla",
			Executable: "bitwuzla",
			Args:       []string{FileToken},
			Enabled:    true,
			ModelArg:   []string{"--produce-models"},
		},
		{
			Name:       "stp",
			Executable: "stp",
			Args:       []string{"--SMTLIB2", FileToken},
			Enabled:    true,
		},
		{
			Name:       "mathsat",
			Executable: "mathsat",
			Args:       []string{FileToken},
			Enabled:    true,
			ModelArg:   []string{"-model"},
		},
		// Virtual solvers used for benchmarking the supervision overhead.
		// They answer instantly without reading the input.
		{
			Name:       "always-sat",
			Executable: "sh",
			Args:       []string{"-c", "echo sat"},
			Enabled:    false,
		},
		{
			Name:       "always-unsat",
			Executable: "sh",
			Args:       []string{"-c", "echo unsat"},
			Enabled:    false,
		},
	}
}
