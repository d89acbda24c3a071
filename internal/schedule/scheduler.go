// Package schedule implements the Scheduler (4.6): it drives every
// rebuild-required target across up to N concurrent worker slots,
// dispatching recipe commands through the Command Dispatcher and
// propagating readiness through the Target Graph as targets complete.
package schedule

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"ymake/internal/dispatch"
	"ymake/internal/errs"
	"ymake/internal/graph"
)

// Options configures one scheduler run.
type Options struct {
	N          int // worker slots, clamped to [1, 64] by the caller
	KeepGoing  bool
	Silent     bool // suppress command echo
	DryRun     bool
	Shell      string    // host interpreter for delegated verbs
	EngineTemp string    // parent directory for per-job YMAKE<n> dirs
	Stdout     io.Writer // nil means os.Stdout
}

// jobRecipe is the runtime record the spec calls a "child recipe": the
// dispatcher context plus bookkeeping for one target's in-flight job.
type jobRecipe struct {
	target     *graph.Target
	jobID      int
	tempDir    string
	cmdIndex   int
	ctx        *dispatch.Context
	pendingBuf *bytes.Buffer // this command's output, drained on completion
}

type completion struct {
	target *graph.Target
	index  int
	res    dispatch.Result
	err    error
}

// Scheduler owns the job-id pool and drives the main loop in 4.6 against
// one Graph. It is the sole mutator of the graph's readiness lists.
type Scheduler struct {
	g    *graph.Graph
	opts Options

	pool        *jobIDPool
	active      map[*graph.Target]*jobRecipe
	completions chan completion

	exclusiveActive bool
	aborting        bool
	anyFailed       bool

	stdout   io.Writer
	stdoutMu sync.Mutex
}

// New builds a Scheduler bound to g. N is clamped to [1, 64].
func New(g *graph.Graph, opts Options) *Scheduler {
	if opts.N < 1 {
		opts.N = 1
	}
	if opts.N > 64 {
		opts.N = 64
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if opts.EngineTemp == "" {
		opts.EngineTemp = os.TempDir()
	}
	return &Scheduler{
		g:           g,
		opts:        opts,
		pool:        newJobIDPool(opts.N),
		active:      make(map[*graph.Target]*jobRecipe),
		completions: make(chan completion, opts.N),
		stdout:      stdout,
	}
}

// Run drives the main loop until Running and Ready are both empty (or
// until ctx is cancelled, which sets the aborting flag described in 5's
// cancellation semantics). It returns an *errs.Error of kind Aborted if
// any target failed or ctx was cancelled, nil otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	s.g.SeedReady()

	for {
		select {
		case <-ctx.Done():
			s.aborting = true
		default:
		}

		if !s.aborting {
			s.pumpReady()
		}
		if len(s.g.Running) == 0 {
			break
		}
		comp := <-s.completions
		s.handleCompletion(comp)
	}

	if s.anyFailed || s.aborting {
		return errs.New(errs.Aborted, "build failed")
	}
	return nil
}

// pumpReady implements 4.6 step 1 (and folds in step 5, the
// ready-with-no-recipe sweep, since a zero-command target at the head of
// Ready is simply completed here without consuming a worker slot).
func (s *Scheduler) pumpReady() {
	for len(s.g.Ready) > 0 && len(s.active) < s.opts.N {
		if s.exclusiveActive {
			return
		}
		t := s.g.Ready[0]
		if t.Exclusive && len(s.active) > 0 {
			return
		}

		s.g.MoveToRunning(t)

		if len(t.Commands) == 0 {
			s.g.MoveToFinished(t)
			continue
		}

		if t.Exclusive {
			s.exclusiveActive = true
		}
		s.startJob(t)
	}
}

// startJob allocates a job id and temp directory for t and dispatches its
// first command.
func (s *Scheduler) startJob(t *graph.Target) {
	jobID := s.pool.allocate()
	tempDir, err := jobTempDir(s.opts.EngineTemp, jobID)
	if err != nil {
		tempDir = s.opts.EngineTemp // degrade gracefully; IoError surfaces per-command instead
	}

	recipe := &jobRecipe{
		target:  t,
		jobID:   jobID,
		tempDir: tempDir,
		ctx: &dispatch.Context{
			Dir:    t.Scope.Dir,
			Temp:   tempDir,
			Shell:  s.opts.Shell,
			DryRun: s.opts.DryRun,
		},
	}
	s.active[t] = recipe
	s.dispatchCommand(recipe)
}

// dispatchCommand runs recipe's command at its current index, echoing it
// first unless silenced, and delivers the result on s.completions.
func (s *Scheduler) dispatchCommand(recipe *jobRecipe) {
	cmd := recipe.target.Commands[recipe.cmdIndex]
	if !s.opts.Silent && !cmd.Silent {
		fmt.Fprintln(s.stdout, cmd.Text)
	}

	buf := &bytes.Buffer{}
	recipe.ctx.Output = buf
	recipe.pendingBuf = buf
	index := recipe.cmdIndex

	go func() {
		res, err := dispatch.Execute(recipe.ctx, cmd.Text)
		s.completions <- completion{target: recipe.target, index: index, res: res, err: err}
	}()
}

// handleCompletion implements 4.6 step 3 (per-command completion) and,
// when a target's commands are exhausted or it failed, step 4 (target
// completion).
func (s *Scheduler) handleCompletion(c completion) {
	recipe := s.active[c.target]
	cmd := c.target.Commands[c.index]

	s.drain(recipe)

	success := c.err == nil && c.res.ExitCode == 0
	if !success && !cmd.IgnoreErrors {
		if c.err != nil {
			fmt.Fprintln(s.stdout, c.err.Error())
		} else {
			fmt.Fprintf(s.stdout, "ChildNonZeroExit: %s: exit status %d\n", cmd.Text, c.res.ExitCode)
		}
		if !s.opts.KeepGoing {
			s.aborting = true
		}
		s.finishTarget(recipe, false)
		return
	}

	recipe.cmdIndex++
	if s.aborting || recipe.cmdIndex >= len(c.target.Commands) {
		s.finishTarget(recipe, !s.aborting)
		return
	}
	s.dispatchCommand(recipe)
}

// drain writes recipe's buffered output to the engine's stdout as one
// contiguous write, serialized so concurrent completions never interleave
// (5's per-child output buffer row, and 8's invariant 5).
func (s *Scheduler) drain(recipe *jobRecipe) {
	if recipe.pendingBuf == nil || recipe.pendingBuf.Len() == 0 {
		return
	}
	s.stdoutMu.Lock()
	defer s.stdoutMu.Unlock()
	io.Copy(s.stdout, recipe.pendingBuf)
}

// finishTarget releases recipe's job id and temp directory and moves its
// target to Finished, propagating readiness to children only when
// succeeded is true (4.6 step 4; the KeepGoing branch in 5 keeps a failed
// target's children on Waiting forever).
func (s *Scheduler) finishTarget(recipe *jobRecipe, succeeded bool) {
	delete(s.active, recipe.target)
	s.pool.free(recipe.jobID)
	releaseJobTempDir(recipe.tempDir)
	if recipe.target.Exclusive {
		s.exclusiveActive = false
	}

	if succeeded {
		s.g.MoveToFinished(recipe.target)
	} else {
		s.anyFailed = true
		s.g.FinishFailed(recipe.target)
	}
}
