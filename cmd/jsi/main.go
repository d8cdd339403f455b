// Command jsi races a portfolio of SMT solvers against a single SMT-LIB 2
// problem and reports the first definitive verdict.
package main

import (
	"os"

	"github.com/tjper/jsi/internal/jsi/cli"
)

func main() {
	os.Exit(cli.Run())
}
