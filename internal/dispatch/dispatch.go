// Package dispatch implements the Command Dispatcher (4.5): given one
// command string and a working directory, classify it as an in-proc
// builtin, a subshell delegation, or a spawned external process, and
// produce an exit code.
package dispatch

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"ymake/internal/errs"
)

// maxReclassify bounds the re-entrant loop after in-proc `if` (Design
// Notes: "bounded iteration count (e.g., 8)") so a pathological makefile
// cannot cause runaway re-classification.
const maxReclassify = 8

// Context is the mutable per-job state the dispatcher operates against:
// the recipe's current working directory (data, never process state,
// per Design Notes) plus its TEMP/TMP environment and output sink.
type Context struct {
	Dir    string    // current working directory, mutable by `cd`
	Temp   string    // this job's TEMP/TMP value
	Output io.Writer // engine-owned per-job buffer; nil means inherit stdio
	Shell  string    // host command interpreter invoked for delegated verbs
	DryRun bool
}

// Result carries the outcome of executing one command.
type Result struct {
	ExitCode int
	Spawned  bool // true if a child process handle was involved (vs. a synchronous builtin)
}

// Execute classifies and runs command, implementing the algorithm in 4.5.
func Execute(ctx *Context, command string) (Result, error) {
	return execute(ctx, command, 0)
}

func execute(ctx *Context, command string, depth int) (Result, error) {
	if depth > maxReclassify {
		return Result{ExitCode: 1}, errs.New(errs.IoError, "command re-classification exceeded %d iterations: %q", maxReclassify, command)
	}

	stages, err := parseExecPlan(command)
	if err != nil {
		return Result{ExitCode: 1}, errs.New(errs.IoError, "ParseError: %v", err)
	}
	if len(stages) == 0 {
		return Result{ExitCode: 0}, nil
	}

	if len(stages) > 1 {
		return delegateToSubshell(ctx, command, depth)
	}

	st := stages[0]
	if len(st.Argv) == 0 {
		return Result{ExitCode: 0}, nil
	}

	verb := strings.ToLower(st.Argv[0])
	switch {
	case verb == "cd":
		if ctx.DryRun {
			return Result{ExitCode: 0}, nil
		}
		return runCd(ctx, st.Argv[1:])

	case verb == "if":
		if ctx.DryRun {
			return Result{ExitCode: 0}, nil
		}
		next, handled, err := evalIf(ctx, st.Argv[1:])
		if err != nil {
			return Result{ExitCode: 1}, err
		}
		if !handled {
			return Result{ExitCode: 0}, nil
		}
		return execute(ctx, next, depth+1)

	case isBuiltin(verb):
		if ctx.DryRun {
			return Result{ExitCode: 0}, nil
		}
		return runBuiltin(ctx, st)

	case isShellVerb(verb):
		return delegateToSubshell(ctx, command, depth)

	default:
		return runExternal(ctx, st)
	}
}

// delegateToSubshell wraps the original command text in a single-argument
// invocation of the host shell (step 2 of the classification algorithm).
// Construction guarantees this re-plan is a single stage: "shell -c
// command" never itself contains an unquoted top-level pipe.
func delegateToSubshell(ctx *Context, command string, depth int) (Result, error) {
	_ = depth
	shell := ctx.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return runExternal(ctx, stage{Argv: []string{shell, "-c", command}})
}

// resolvePath joins a possibly-relative path against workDir.
func resolvePath(path, workDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// lookPath resolves name via PATH, relative to workDir the way 4.5's
// final bullet requires (PATH lookup "relative to the recipe's working
// directory").
func lookPath(name, workDir string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasPrefix(name, ".") {
		return resolvePath(name, workDir), nil
	}
	return exec.LookPath(name)
}

// runExternal spawns name as a child process with the recipe's working
// directory and TEMP/TMP overridden (4.6's job-id temp directory).
func runExternal(ctx *Context, st stage) (Result, error) {
	path, err := lookPath(st.Argv[0], ctx.Dir)
	if err != nil {
		return Result{ExitCode: 1}, errs.New(errs.SpawnFailure, "%v", err)
	}

	if ctx.DryRun {
		return Result{ExitCode: 0, Spawned: true}, nil
	}

	cmd := exec.Command(path, st.Argv[1:]...)
	cmd.Dir = ctx.Dir
	cmd.Env = childEnv(ctx)

	stdout, closeOut, bufferedOut := resolveOutRedirect(st.Stdout, ctx)
	defer closeOut()
	stderr, closeErr, _ := resolveErrRedirect(st.Stderr, ctx, bufferedOut)
	defer closeErr()
	stdin, closeIn, err := openIn(st.Stdin, ctx.Dir)
	if err != nil {
		return Result{ExitCode: 1}, errs.New(errs.IoError, "%v", err)
	}
	defer closeIn()

	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = stdin

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{ExitCode: exitErr.ExitCode(), Spawned: true}, nil
		}
		return Result{ExitCode: 1, Spawned: true}, errs.New(errs.SpawnFailure, "%v", err)
	}
	return Result{ExitCode: 0, Spawned: true}, nil
}

// resolveOutRedirect applies redirection for stdout, defaulting to the
// engine buffer when the recipe didn't name an explicit destination.
func resolveOutRedirect(r Redirect, ctx *Context) (io.Writer, func(), bool) {
	if r.Kind == RedirectInherit && ctx.Output != nil {
		return ctx.Output, func() {}, true
	}
	if r.Kind == RedirectInherit {
		return os.Stdout, func() {}, false
	}
	w, closer, err := openOut(r, ctx.Dir, ctx.Output)
	if err != nil || w == nil {
		return io.Discard, func() {}, false
	}
	return w, closer, r.Kind == RedirectBuffer
}

// resolveErrRedirect applies stderr redirection, auto-merging into the
// same engine buffer as stdout when stdout went to a buffer and stderr
// was left default (4.5's "Redirection" paragraph).
func resolveErrRedirect(r Redirect, ctx *Context, stdoutBuffered bool) (io.Writer, func(), bool) {
	if r.Kind == RedirectInherit && stdoutBuffered {
		return ctx.Output, func() {}, true
	}
	if r.Kind == RedirectInherit && ctx.Output != nil {
		return ctx.Output, func() {}, true
	}
	if r.Kind == RedirectInherit {
		return os.Stderr, func() {}, false
	}
	w, closer, err := openOut(r, ctx.Dir, ctx.Output)
	if err != nil || w == nil {
		return io.Discard, func() {}, false
	}
	return w, closer, r.Kind == RedirectBuffer
}

// childEnv builds the child's environment: the engine process's
// environment with TEMP/TMP overridden for this job (6's environment
// contract). The override goes into a fresh slice for each child and the
// process environment itself is never modified, so jobs spawning at the
// same time cannot see each other's TEMP/TMP.
func childEnv(ctx *Context) []string {
	env := os.Environ()
	var out []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "TEMP=") || strings.HasPrefix(kv, "TMP=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "TEMP="+ctx.Temp, "TMP="+ctx.Temp)
	return out
}
