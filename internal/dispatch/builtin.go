package dispatch

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ymake/internal/errs"
)

// runCd resolves its argument relative to the recipe's working directory
// and replaces it on success (4.5's `cd` bullet).
func runCd(ctx *Context, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{ExitCode: 1}, errs.New(errs.IoError, "cd: missing operand")
	}
	target := resolvePath(args[0], ctx.Dir)
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return Result{ExitCode: 1}, errs.New(errs.IoError, "cd: %s: not a directory", args[0])
	}
	ctx.Dir = target
	return Result{ExitCode: 0}, nil
}

// evalIf implements the 4.5.1 grammar: "if [not] exist <path> <command>"
// and "if [/i] A==B <command>". It returns the embedded command to
// re-classify (handled=true, next may be empty for a no-op success) or
// handled=false if args don't match either form.
func evalIf(ctx *Context, args []string) (next string, handled bool, err error) {
	if len(args) == 0 {
		return "", false, nil
	}

	negate := false
	i := 0
	switch {
	case len(args) >= 2 && strings.EqualFold(args[0], "not") && strings.EqualFold(args[1], "exist"):
		negate = true
		i = 2
	case strings.EqualFold(args[0], "exist"):
		i = 1
	}

	if i > 0 {
		if i >= len(args) {
			return "", false, fmt.Errorf("if exist: missing path operand")
		}
		path := args[i]
		rest := args[i+1:]
		_, statErr := os.Stat(resolvePath(path, ctx.Dir))
		exists := statErr == nil
		if negate {
			exists = !exists
		}
		if exists {
			return strings.Join(rest, " "), true, nil
		}
		return "", true, nil
	}

	caseInsensitive := false
	j := 0
	if strings.EqualFold(args[j], "/i") {
		caseInsensitive = true
		j++
	}
	if j >= len(args) {
		return "", false, nil
	}
	a, b, ok := splitEquality(args[j])
	if !ok {
		return "", false, nil
	}
	rest := args[j+1:]

	var eq bool
	if caseInsensitive {
		eq = strings.EqualFold(a, b)
	} else {
		eq = a == b
	}
	if eq {
		return strings.Join(rest, " "), true, nil
	}
	return "", true, nil
}

func splitEquality(tok string) (a, b string, ok bool) {
	idx := strings.Index(tok, "==")
	if idx < 0 {
		return "", "", false
	}
	return tok[:idx], tok[idx+2:], true
}

// ioStreams carries a builtin's resolved stdin/stdout/stderr, so builtin
// redirection (4.5: "in-proc dispatch to the builtin function with argv
// and redirection honored") is honored the same way runExternal honors it
// for spawned children.
type ioStreams struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// builtinFunc is a registered in-proc command (4.5's third bullet).
type builtinFunc func(ctx *Context, args []string, streams ioStreams) (Result, error)

var builtins = map[string]builtinFunc{
	"echo": func(ctx *Context, args []string, streams ioStreams) (Result, error) {
		fmt.Fprintln(streams.Stdout, strings.Join(args, " "))
		return Result{ExitCode: 0}, nil
	},
	"true": func(ctx *Context, args []string, streams ioStreams) (Result, error) {
		return Result{ExitCode: 0}, nil
	},
	"false": func(ctx *Context, args []string, streams ioStreams) (Result, error) {
		return Result{ExitCode: 1}, nil
	},
	"pwd": func(ctx *Context, args []string, streams ioStreams) (Result, error) {
		fmt.Fprintln(streams.Stdout, ctx.Dir)
		return Result{ExitCode: 0}, nil
	},
	"exit": func(ctx *Context, args []string, streams ioStreams) (Result, error) {
		if len(args) == 0 {
			return Result{ExitCode: 0}, nil
		}
		code, err := strconv.Atoi(args[0])
		if err != nil {
			return Result{ExitCode: 1}, nil
		}
		return Result{ExitCode: code}, nil
	},
}

func isBuiltin(verb string) bool {
	_, ok := builtins[verb]
	return ok
}

// runBuiltin resolves st's redirection the way runExternal does before
// invoking the registered function, so e.g. `echo text > file.txt` creates
// file.txt instead of leaking into the aggregated job output.
func runBuiltin(ctx *Context, st stage) (Result, error) {
	fn := builtins[strings.ToLower(st.Argv[0])]

	stdout, closeOut, bufferedOut := resolveOutRedirect(st.Stdout, ctx)
	defer closeOut()
	stderr, closeErr, _ := resolveErrRedirect(st.Stderr, ctx, bufferedOut)
	defer closeErr()
	stdin, closeIn, err := openIn(st.Stdin, ctx.Dir)
	if err != nil {
		return Result{ExitCode: 1}, errs.New(errs.IoError, "%v", err)
	}
	defer closeIn()

	return fn(ctx, st.Argv[1:], ioStreams{Stdout: stdout, Stderr: stderr, Stdin: stdin})
}

// shellVerbs is the closed table of verbs historically implemented by
// the host command interpreter that this engine delegates rather than
// reimplements (4.5's classification step 3, last bullet before PATH
// lookup). `if` is excluded: it is handled in-proc above.
var shellVerbs = map[string]bool{
	"copy":  true,
	"erase": true,
	"for":   true,
	"move":  true,
	"ren":   true,
	"type":  true,
}

func isShellVerb(verb string) bool {
	return shellVerbs[verb]
}
