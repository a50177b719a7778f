package scheduler

import (
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/dustin/go-humanize"

	"github.com/xpybuild/xbuild-go/src/core"
)

// Result summarizes a completed scheduler run.
type Result struct {
	Built      int
	UpToDate   int
	Failed     int
	Duration   time.Duration
	Errors     *core.ErrorList
	Verification *core.ErrorList // populated only when Options.Verify is set
}

// Run executes graph according to opts: a dry-run or a real build goes
// through the priority-ordered worker pool, while clean mode is handed to
// runClean, which works through the targets one by one. This is the single
// entry point the CLI driver calls once InitializationContext.Freeze has
// produced a BuildContext and core.Resolve has produced a Graph.
//
// Grounded on please's src/plz/plz.go Plz/doTasks, which similarly picks a
// worker count, spins a fixed goroutine pool reading from a shared channel,
// and funnels completions back through a WaitGroup; the priority queue here
// generalizes please's simpler "just run what's ready" model into explicit
// priority ordering per spec.md §5.
func Run(graph *core.Graph, opts Options) (*Result, error) {
	if opts.Clean {
		return runClean(graph, opts)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	if opts.Profile != "" {
		f, err := os.Create(opts.Profile)
		if err != nil {
			return nil, fmt.Errorf("opening profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		defer f.Close()
	}

	if opts.DepGraphFile != "" {
		if err := dumpDepGraph(graph, opts.DepGraphFile); err != nil {
			return nil, fmt.Errorf("writing dep graph file: %w", err)
		}
	}

	start := time.Now()
	res := &Result{Errors: &core.ErrorList{}}

	rng := rand.New(rand.NewSource(1))
	q := newPriorityQueue(opts.RandomizePriorities, rng)
	var qmu sync.Mutex
	qcond := sync.NewCond(&qmu)

	running := 0     // targets dequeued and not yet finished
	aborted := false // set once a target fails without KeepGoing
	for _, w := range graph.Wrappers {
		if w.OutstandingDepCount() == 0 {
			w.SetState(core.StateQueued)
			q.Enqueue(w)
		}
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	failedTargets := map[*core.TargetWrapper]bool{}

	worker := func() {
		defer wg.Done()
		for {
			qmu.Lock()
			for q.Len() == 0 && running > 0 && !aborted {
				qcond.Wait()
			}
			if q.Len() == 0 || aborted {
				qmu.Unlock()
				return
			}
			w := q.Dequeue()
			running++
			qmu.Unlock()

			w.SetState(core.StateRunning)

			skip := false
			if w.AtomicGroup != nil {
				resMu.Lock()
				for _, sibling := range w.AtomicGroup.Members() {
					sw := graph.WrapperFor(sibling.Name)
					if sw != nil && failedTargets[sw] {
						skip = true
					}
				}
				resMu.Unlock()
			}

			var stepErr error
			var built bool
			if skip {
				stepErr = core.NewBuildError(core.KindTargetExecution, "skipped: atomic group sibling failed").WithTarget(w.Target.Name)
			} else {
				built, stepErr = executeOne(graph.Context, w, opts)
			}

			resMu.Lock()
			if stepErr != nil {
				res.Failed++
				res.Errors.Add(stepErr)
				failedTargets[w] = true
			} else if built {
				res.Built++
			} else {
				res.UpToDate++
			}
			resMu.Unlock()

			if stepErr != nil {
				w.SetState(core.StateFailed)
			} else if built {
				w.SetState(core.StateBuilt)
			} else {
				w.SetState(core.StateUpToDate)
			}

			// Dependents of a failed target are never enqueued (spec.md §4.6
			// step 6), regardless of KeepGoing: KeepGoing only controls
			// whether *other*, independent queued work keeps draining, not
			// whether a failed target's own dependents become eligible.
			if stepErr == nil && built {
				for _, rdep := range w.RDeps {
					rdep.SetDirty(true)
				}
			}

			qmu.Lock()
			running--
			if stepErr == nil {
				for _, rdep := range w.RDeps {
					if rdep.DecrementOutstandingDeps() {
						rdep.TransitionTo(core.StatePending, core.StateQueued)
						q.Enqueue(rdep)
					}
				}
			} else if !opts.KeepGoing {
				aborted = true
			}
			qcond.Broadcast()
			qmu.Unlock()

			if stepErr != nil && !opts.KeepGoing {
				return
			}
		}
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	wg.Wait()

	res.Duration = time.Since(start)

	if opts.Verify && res.Failed == 0 {
		res.Verification = verifyAfterBuild(graph)
	}

	if opts.LogCPUUtilisation {
		logToStderr("build finished in %s using %d workers", humanize.RelTime(start, time.Now(), "", ""), workers)
	}

	return res, res.Errors.ErrorOrNil()
}

// executeOne runs the up-to-date check and, if necessary, the target's own
// Run, recording a fresh implicit-inputs file on success (spec.md §4.6).
func executeOne(ctx *core.BuildContext, w *core.TargetWrapper, opts Options) (built bool, err error) {
	options, err := ctx.MergeOptions(w.Target)
	if err != nil {
		return false, core.NewBuildError(core.KindTargetExecution, "merging options").WithTarget(w.Target.Name).WithCause(err)
	}

	// UpToDate is always consulted, even with IgnoreDeps set: ignoreDeps is
	// one of its own parameters (spec.md §4.5 step 3), not an external
	// bypass — the output must still exist for a target to count as up to
	// date either way.
	upToDate, err := core.UpToDate(w, opts.IgnoreDeps)
	if err != nil {
		return false, err
	}
	if upToDate.UpToDate {
		return false, nil
	}

	if opts.DryRun {
		quoted := make([]string, 0, len(w.ResolvedInputs))
		for _, in := range w.ResolvedInputs {
			quoted = append(quoted, shellescape.Quote(in.AbsSource))
		}
		logToStderr("would build %s from %s", w.Target.Name, strings.Join(quoted, " "))
		return true, nil
	}

	inputs := make([]string, 0, len(w.ResolvedInputs))
	for _, in := range w.ResolvedInputs {
		inputs = append(inputs, in.AbsSource)
	}

	if w.Target.Run == nil {
		return false, core.NewBuildError(core.KindTargetExecution, "target has no Run action").WithTarget(w.Target.Name)
	}

	// Pre-execution clean (spec.md §4.6 step 1): a stale output, work dir or
	// implicit-inputs file left over from a prior failed or differently
	// configured build must not leak into this run.
	if err := preExecutionClean(w); err != nil {
		return false, core.NewBuildError(core.KindTargetExecution, "pre-execution clean").WithTarget(w.Target.Name).WithCause(err)
	}

	if err := w.Target.Run(ctx, options, inputs); err != nil {
		// spec.md §4.6 step 4: a failed run deletes the stamp file, so the
		// next build doesn't mistake a partial output for a finished one.
		if delErr := core.DeleteStampFile(w); delErr != nil {
			logToStderr("%s: deleting stamp file after failed build: %v", w.Target.Name, delErr)
		}
		return false, core.NewBuildError(core.KindTargetExecution, "build action failed").WithTarget(w.Target.Name).WithCause(err)
	}

	if err := core.RecordBuildOutcome(w); err != nil {
		return true, err
	}
	return true, nil
}

// preExecutionClean removes a target's output, work directory and
// implicit-inputs file before Run is invoked (spec.md §4.6 step 1).
func preExecutionClean(w *core.TargetWrapper) error {
	if err := os.RemoveAll(core.NormalizeLongPath(w.Target.Path)); err != nil {
		return err
	}
	if w.WorkDir != "" {
		if err := os.RemoveAll(w.WorkDir); err != nil {
			return err
		}
	}
	if w.ImplicitInputsFile != "" {
		if err := os.Remove(w.ImplicitInputsFile); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// verifyAfterBuild re-checks every target's non-target dependencies once the
// whole build has finished and reports (without aborting) any that no longer
// exist. It checks existence only: a dependency that still exists but was
// modified during the build is not reported.
func verifyAfterBuild(graph *core.Graph) *core.ErrorList {
	list := &core.ErrorList{}
	for _, w := range graph.Wrappers {
		for _, dep := range w.NonTargetDeps {
			if dep.SkipExistenceCheck {
				continue
			}
			if !core.PathExists(dep.AbsPath) {
				list.Add(core.NewBuildError(core.KindVerification, fmt.Sprintf("dependency %q vanished after build", dep.AbsPath)).WithTarget(w.Target.Name))
			}
		}
	}
	return list
}

func dumpDepGraph(graph *core.Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, w := range graph.Wrappers {
		fmt.Fprintf(f, "%s (priority=%d)\n", w.Target.Name, w.EffectivePriority())
		for _, dep := range w.TargetDeps {
			fmt.Fprintf(f, "  -> %s\n", dep.Target.Name)
		}
	}
	return nil
}

// logToStderr is a tiny indirection so this file doesn't need to import the
// cli package (which would create an import cycle risk if cli ever needs
// scheduler types); it writes straight to stderr, matching how please's
// lower-level packages sometimes fall back to fmt.Fprintln for diagnostics
// that predate their structured logger.
func logToStderr(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
