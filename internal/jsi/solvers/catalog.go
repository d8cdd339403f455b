// Package solvers provides the jsi solver catalogue: solver definitions,
// PATH resolution, and the scan cache.
package solvers

import (
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/tjper/jsi/internal/jsi"
	"github.com/tjper/jsi/internal/jsi/output"
	"github.com/tjper/jsi/internal/log"

	"github.com/pkg/errors"
)

// logger is an object for logging package events to stderr.
var logger = log.New(os.Stderr, "solvers")

var (
	// ErrUnknownSolver indicates a requested sequence references a solver
	// name not present in the catalogue.
	ErrUnknownSolver = errors.New("unknown solver")
	// ErrNoSolvers indicates no requested solver resolved to an executable
	// on PATH.
	ErrNoSolvers = errors.New("no solvers resolved on PATH")
	// ErrInvalidDefinition indicates a solver definition is missing required
	// fields.
	ErrInvalidDefinition = errors.New("invalid solver definition")
)

// FileToken is the argv token substituted with the request's input path.
const FileToken = "{file}"

// Definition describes a single solver: how to invoke it and how to
// interpret its exit codes.
type Definition struct {
	// Name is the logical solver name used in sequences and output files.
	Name string `json:"name"`
	// Executable is the binary to launch. Resolved against PATH unless
	// absolute.
	Executable string `json:"executable"`
	// Args is the argv template. Any element equal to FileToken is replaced
	// with the input path.
	Args []string `json:"args"`
	// Enabled determines whether the solver participates when no explicit
	// sequence is given.
	Enabled bool `json:"enabled"`
	// ModelArg is appended to the argv when model production is requested.
	ModelArg []string `json:"model_arg,omitempty"`
	// VerdictMap remaps solver-specific exit codes to verdicts, overriding
	// stdout classification for matching codes.
	VerdictMap map[string]string `json:"verdict_map,omitempty"`
}

// catalogFile is the on-disk shape of solvers.json. Unknown fields are
// ignored for forward compatibility.
type catalogFile struct {
	Solvers []Definition `json:"solvers"`
}

// Load creates a Catalog from the user definitions file if present, falling
// back to the bundled defaults. The scan cache is loaded alongside.
func Load(paths jsi.Paths) (*Catalog, error) {
	// The cache flush later needs the state directory to exist.
	if err := os.MkdirAll(paths.Root(), 0755); err != nil {
		return nil, errors.Wrapf(err, "create state dir; path: %s", paths.Root())
	}

	defs := Defaults()

	b, err := os.ReadFile(paths.Solvers())
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debugf("no user definitions; path: %s", paths.Solvers())
	case err != nil:
		return nil, errors.WithStack(err)
	default:
		var file catalogFile
		if err := json.Unmarshal(b, &file); err != nil {
			return nil, errors.Wrapf(err, "parse solver definitions; path: %s", paths.Solvers())
		}
		defs = file.Solvers
	}

	for _, def := range defs {
		if def.Name == "" || def.Executable == "" {
			return nil, errors.Wrapf(ErrInvalidDefinition, "name: %q, executable: %q", def.Name, def.Executable)
		}
	}

	return &Catalog{
		defs:  defs,
		cache: loadCache(paths.Cache()),
	}, nil
}

// Catalog resolves logical solver names to ready-to-spawn descriptors.
// A Catalog is immutable after Load; it is safe for concurrent use.
type Catalog struct {
	defs  []Definition
	cache *cache
}

// Names returns the solver names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for _, def := range c.defs {
		names = append(names, def.Name)
	}
	return names
}

// ResolveOptions carries the per-request knobs consulted during resolution.
type ResolveOptions struct {
	// Model appends each definition's ModelArg to its argv.
	Model bool
	// OutputDir redirects solver stdout files away from the input's
	// directory.
	OutputDir string
}

// Descriptor is a fully resolved solver invocation, ready to spawn.
type Descriptor struct {
	// Name is the logical solver name.
	Name string
	// Path is the absolute executable path.
	Path string
	// Args is the argv following the executable, with FileToken substituted.
	Args []string
	// StdoutPath is the file the solver's stdout is captured to.
	StdoutPath string
	// VerdictMap remaps exit codes to verdicts for this solver.
	VerdictMap map[string]jsi.Verdict
}

// Resolve produces the ordered descriptor list for a request. If sequence is
// non-empty it selects and orders the solvers; otherwise all enabled
// definitions participate in declaration order. Resolution consults the scan
// cache, falling back to a PATH walk on miss.
func (c *Catalog) Resolve(sequence []string, input string, opts ResolveOptions) ([]Descriptor, error) {
	selected, err := c.filter(sequence)
	if err != nil {
		return nil, err
	}

	var descriptors []Descriptor
	for _, def := range selected {
		path, err := c.resolveExecutable(def)
		if err != nil {
			logger.Warnf("solver not resolvable; solver: %s, executable: %s, error: %s", def.Name, def.Executable, err)
			continue
		}

		descriptors = append(descriptors, Descriptor{
			Name:       def.Name,
			Path:       path,
			Args:       buildArgs(def, input, opts.Model),
			StdoutPath: output.SolverFile(input, def.Name, opts.OutputDir),
			VerdictMap: parseVerdictMap(def),
		})
	}

	if err := c.cache.flush(); err != nil {
		logger.Warnf("persist scan cache; error: %s", err)
	}

	if len(descriptors) == 0 {
		return nil, ErrNoSolvers
	}
	return descriptors, nil
}

// filter selects definitions by the passed sequence, preserving its order.
// An empty sequence selects all enabled definitions in declaration order.
func (c *Catalog) filter(sequence []string) ([]Definition, error) {
	if len(sequence) == 0 {
		var enabled []Definition
		for _, def := range c.defs {
			if def.Enabled {
				enabled = append(enabled, def)
			}
		}
		return enabled, nil
	}

	byName := make(map[string]Definition, len(c.defs))
	for _, def := range c.defs {
		byName[def.Name] = def
	}

	var selected []Definition
	for _, name := range sequence {
		def, ok := byName[name]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownSolver, "name: %s", name)
		}
		selected = append(selected, def)
	}
	return selected, nil
}

// resolveExecutable maps a definition's executable to an absolute path,
// memoising PATH walks in the scan cache. Absolute executables bypass the
// cache.
func (c *Catalog) resolveExecutable(def Definition) (string, error) {
	if strings.HasPrefix(def.Executable, "/") {
		if err := checkExecutable(def.Executable); err != nil {
			return "", err
		}
		return def.Executable, nil
	}

	if path, ok := c.cache.lookup(def.Name); ok {
		return path, nil
	}

	path, err := exec.LookPath(def.Executable)
	if err != nil {
		return "", err
	}
	c.cache.store(def.Name, path)
	return path, nil
}

func buildArgs(def Definition, input string, model bool) []string {
	args := make([]string, 0, len(def.Args)+len(def.ModelArg))
	for _, arg := range def.Args {
		if arg == FileToken {
			arg = input
		}
		args = append(args, arg)
	}
	if model {
		args = append(args, def.ModelArg...)
	}
	return args
}

func parseVerdictMap(def Definition) map[string]jsi.Verdict {
	if len(def.VerdictMap) == 0 {
		return nil
	}
	m := make(map[string]jsi.Verdict, len(def.VerdictMap))
	for code, name := range def.VerdictMap {
		verdict, ok := jsi.ParseVerdict(name)
		if !ok {
			logger.Warnf("unrecognized verdict in verdict_map; solver: %s, code: %s, verdict: %s", def.Name, code, name)
			continue
		}
		m[code] = verdict
	}
	return m
}
