// Command ymake drives the parallel make engine: parse a makefile, build
// its target graph, and execute the requested targets across N workers.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"strings"

	isatty "github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"ymake/internal/engine"
	"ymake/internal/errs"
)

var (
	mkfilepath = pflag.StringP("file", "f", "", "use the given file rather than makefile/Makefile")
	jobs       = pflag.IntP("jobs", "j", runtime.NumCPU(), "maximum number of concurrent recipes")
	keepGoing  = pflag.BoolP("keep-going", "k", false, "do not stop on the first failure")
	silent     = pflag.BoolP("silent", "s", false, "suppress command echo")
	dryRun     = pflag.BoolP("dry-run", "n", false, "print commands without executing them")
	directory  = pflag.StringP("directory", "C", "", "change to this directory before reading the makefile")
	debug      = pflag.BoolP("debug", "d", false, "dump the target graph and scope before building")
	interactive = pflag.BoolP("interactive", "i", false, "ask before executing when combined with --dry-run")
)

var overrideRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

func main() {
	pflag.Parse()
	os.Exit(run())
}

func run() int {
	var overrides, targets []string
	for _, arg := range pflag.Args() {
		if overrideRE.MatchString(arg) {
			overrides = append(overrides, arg)
		} else {
			targets = append(targets, arg)
		}
	}

	e, err := engine.New(engine.Options{
		Makefile:  *mkfilepath,
		Directory: *directory,
		Jobs:      *jobs,
		KeepGoing: *keepGoing,
		Silent:    *silent,
		DryRun:    *dryRun,
		Debug:     *debug,
		Overrides: overrides,
		Targets:   targets,
	})
	if err != nil {
		return fail(nil, err)
	}

	if err := e.Load(); err != nil {
		return fail(e, err)
	}

	if *dryRun && *interactive && isatty.IsTerminal(os.Stdin.Fd()) {
		if !confirm() {
			return 1
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()

	if err := e.Run(ctx); err != nil {
		return fail(e, err)
	}
	return 0
}

func confirm() bool {
	fmt.Fprint(os.Stderr, "proceed? [y/n] ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

func fail(e *engine.Engine, err error) int {
	if e != nil {
		e.PrintError(err.Error())
	} else {
		fmt.Fprintln(os.Stderr, "ymake:", err)
	}
	return errs.ExitCode(err)
}
