// Package engine wires the six components together: it turns a parsed
// makefile into a Target Graph, marks rebuild requirements, seeds the
// ready list and drives the Scheduler, matching the teacher's mk.go
// main-loop idiom (ANSI color gated on a tty check, a mutex-guarded
// stderr error printer).
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sanity-io/litter"
	"golang.org/x/term"

	"ymake/internal/errs"
	"ymake/internal/graph"
	"ymake/internal/parse"
	"ymake/internal/plan"
	"ymake/internal/schedule"
	"ymake/internal/variable"
)

const (
	ansiDefault = "\033[0m"
	ansiRed     = "\033[31m"
)

var printMu sync.Mutex

// Options configures one engine run, mirroring the CLI surface in 6.
type Options struct {
	Makefile  string
	Directory string
	Jobs      int
	KeepGoing bool
	Silent    bool
	DryRun    bool
	Debug     bool
	Overrides []string
	Targets   []string
	Stdout    io.Writer // nil means os.Stdout
	Stderr    io.Writer // nil means os.Stderr
}

// Engine holds everything one run needs: the root scope, the parsed
// makefile, and the target graph built from it.
type Engine struct {
	opts  Options
	color bool

	Scope *variable.Scope
	File  *parse.File
	Graph *graph.Graph
}

// New constructs an Engine, changing into opts.Directory first if set.
func New(opts Options) (*Engine, error) {
	if opts.Directory != "" {
		if err := os.Chdir(opts.Directory); err != nil {
			return nil, errs.New(errs.IoError, "changing directory to %q: %v", opts.Directory, err)
		}
	}

	store := variable.NewStore(opts.Overrides)
	wd, err := os.Getwd()
	if err != nil {
		return nil, errs.New(errs.IoError, "%v", err)
	}
	scope := variable.NewRootScope(store, wd)

	return &Engine{
		opts:  opts,
		color: term.IsTerminal(int(os.Stdout.Fd())),
		Scope: scope,
	}, nil
}

// makefilePath resolves which input file to read, per 6's "makefile,
// then Makefile" default search.
func (e *Engine) makefilePath() (string, error) {
	if e.opts.Makefile != "" {
		return e.opts.Makefile, nil
	}
	for _, candidate := range []string{"makefile", "Makefile"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errs.New(errs.ParseError, "no makefile or Makefile found in %s", e.Scope.Dir)
}

// Load parses the makefile and builds the target graph.
func (e *Engine) Load() error {
	path, err := e.makefilePath()
	if err != nil {
		return err
	}

	file, err := parse.Parse(path, e.Scope)
	if err != nil {
		return err
	}
	e.File = file
	e.Graph = graph.New()

	for _, rule := range file.Rules {
		if err := e.addExplicitRule(rule); err != nil {
			return err
		}
	}
	if err := e.inferMissingRecipes(); err != nil {
		return err
	}

	if e.opts.Debug {
		e.dump()
	}
	return nil
}

func (e *Engine) addExplicitRule(rule *parse.ExplicitRule) error {
	t := e.Graph.Resolve(rule.Target, rule.Scope)
	t.ExplicitRecipe = true
	t.Virtual = t.Virtual || rule.Attrs.Virtual
	t.Exclusive = t.Exclusive || rule.Attrs.Exclusive

	commands, err := buildCommands(rule.Scope, rule.Recipe, rule.Attrs)
	if err != nil {
		return err
	}
	if len(commands) > 0 {
		t.Commands = commands
	}

	for _, p := range rule.Prereqs {
		prereq := e.Graph.Resolve(p, rule.Scope)
		if err := e.Graph.AddDependency(t, prereq); err != nil {
			return err
		}
	}
	return nil
}

// inferMissingRecipes attaches a recipe to every target that was only
// ever referenced as a prerequisite (no explicit rule, no commands yet)
// by matching it against a ".from.to:" inference pattern whose source
// file exists alongside it, the classic mk suffix-rule mechanism.
func (e *Engine) inferMissingRecipes() error {
	for _, t := range e.Graph.All() {
		if t.ExplicitRecipe || len(t.Commands) > 0 {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(t.Path), ".")
		if ext == "" {
			continue
		}
		base := strings.TrimSuffix(t.Path, filepath.Ext(t.Path))

		for _, pat := range e.File.Patterns {
			if pat.ToExt != ext {
				continue
			}
			source := base + "." + pat.FromExt
			sourcePath := source
			if pat.Scope != nil && !filepath.IsAbs(sourcePath) {
				sourcePath = filepath.Join(pat.Scope.Dir, sourcePath)
			}
			if _, err := os.Stat(sourcePath); err != nil {
				if _, known := e.Graph.Lookup(source); !known {
					continue
				}
			}

			commands, err := buildCommands(pat.Scope, pat.Recipe, pat.Attrs)
			if err != nil {
				return err
			}
			t.Commands = commands
			t.Virtual = t.Virtual || pat.Attrs.Virtual
			t.Exclusive = t.Exclusive || pat.Attrs.Exclusive

			prereq := e.Graph.Resolve(source, pat.Scope)
			if err := e.Graph.AddDependency(t, prereq); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// buildCommands expands rule's recipe lines and applies its rule-level
// Quiet/NonStop attributes (4.4 layered under the SUPPLEMENTED rule
// attributes) on top of the per-command @/- sigils.
func buildCommands(scope *variable.Scope, lines []parse.RecipeLine, attrs parse.Attrs) ([]graph.Command, error) {
	raw := make([]plan.RawLine, 0, len(lines))
	for _, l := range lines {
		raw = append(raw, plan.RawLine{Text: l.Text, File: l.File, Line: l.Line})
	}
	commands, err := plan.Build(scope, raw)
	if err != nil {
		return nil, err
	}
	if attrs.Quiet || attrs.NonStop {
		for i := range commands {
			commands[i].Silent = commands[i].Silent || attrs.Quiet
			commands[i].IgnoreErrors = commands[i].IgnoreErrors || attrs.NonStop
		}
	}
	return commands, nil
}

// Run resolves the requested targets (or the scope's default), marks
// rebuild requirements, and drives the Scheduler to completion.
func (e *Engine) Run(ctx context.Context) error {
	targets := e.opts.Targets
	if len(targets) == 0 {
		var def string
		if e.File != nil {
			def = e.File.DefaultTarget
		}
		if def == "" {
			return errs.New(errs.UnknownTarget, "no target specified and no default target")
		}
		targets = []string{def}
	}

	for _, name := range targets {
		root, ok := e.Graph.Lookup(name)
		if !ok {
			return errs.New(errs.UnknownTarget, "%s: no rule to build target", name)
		}
		e.Graph.MarkRebuildRequired(root)
	}

	stdout := e.opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	s := schedule.New(e.Graph, schedule.Options{
		N:         clampJobs(e.opts.Jobs),
		KeepGoing: e.opts.KeepGoing,
		Silent:    e.opts.Silent,
		DryRun:    e.opts.DryRun,
		Shell:     "/bin/sh",
		Stdout:    stdout,
	})
	return s.Run(ctx)
}

func clampJobs(n int) int {
	if n < 1 {
		return 1
	}
	if n > 64 {
		return 64
	}
	return n
}

// dump pretty-prints the graph and scope tree with litter, gated behind
// --debug; a debugging aid the teacher's go.mod declared but never wired.
func (e *Engine) dump() {
	fmt.Fprintln(os.Stderr, "--- target graph ---")
	litter.Dump(e.Graph.All())
}

// PrintError writes msg to stderr, colorized when stdout is a terminal,
// matching the teacher's mkPrintError.
func (e *Engine) PrintError(msg string) {
	printMu.Lock()
	defer printMu.Unlock()
	stderr := e.opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if e.color {
		fmt.Fprint(stderr, ansiRed)
	}
	fmt.Fprintf(stderr, "ymake: %s\n", msg)
	if e.color {
		fmt.Fprint(stderr, ansiDefault)
	}
}
