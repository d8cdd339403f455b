// Package output provides the per-request output conventions: solver stdout
// file locations, the verdict lines written to standard output, and the
// optional CSV summary.
package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tjper/jsi/internal/jsi"

	"github.com/google/renameio"
)

const (
	// FileMode is the default FileMode for per-request output resources.
	FileMode = 0644
)

// SolverFile returns the stdout file location for a solver run against the
// passed input. If dir is non-empty, the file is placed there instead of
// alongside the input.
func SolverFile(input, solver, dir string) string {
	name := fmt.Sprintf("%s.%s.out", filepath.Base(input), solver)
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, name)
}

// CSVFile returns the CSV summary location for the passed input.
func CSVFile(input, dir string) string {
	name := fmt.Sprintf("%s.csv", filepath.Base(input))
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, name)
}

// VerdictLines renders the response contract: one verdict line, and, if a
// winner exists, a comment line identifying it. This is the only content
// ever written to standard output, and the daemon response body.
func VerdictLines(verdict jsi.Verdict, winner string) string {
	if winner == "" {
		return fmt.Sprintf("%s\n", verdict)
	}
	return fmt.Sprintf("%s\n; (result from %s)\n", verdict, winner)
}

// Row is one CSV summary record, corresponding to one solver run.
type Row struct {
	Solver     string
	Result     jsi.Verdict
	Exit       int
	Time       time.Duration
	OutputFile string
	Size       int64
}

// csvHeader is the fixed CSV column set.
var csvHeader = []string{"solver", "result", "exit", "time", "output file", "size"}

// WriteCSV writes the passed rows to path atomically, so readers never
// observe a partially written summary.
func WriteCSV(path string, rows []Row) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header; error: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Solver,
			string(row.Result),
			strconv.Itoa(row.Exit),
			fmt.Sprintf("%.3f", row.Time.Seconds()),
			row.OutputFile,
			strconv.FormatInt(row.Size, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row; solver: %s, error: %w", row.Solver, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv; error: %w", err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), FileMode); err != nil {
		return fmt.Errorf("write csv file; path: %s, error: %w", path, err)
	}
	return nil
}
