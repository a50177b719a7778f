// Package scheduler implements the priority-aware parallel build scheduler
// described in spec.md §5: a worker pool that executes targets as soon as
// their dependencies are satisfied, honouring each target's effective
// priority, with clean/dry-run/verify modes layered on top of the same
// dependency graph. Grounded on please's src/plz/plz.go (doTasks) and
// src/core/pool.go for the channel-and-WaitGroup shape of the worker pool.
package scheduler

// Options configures a single scheduler run. Field names mirror please's
// own core.State / cli.OptStruct naming so the CLI layer (src/cli) can bind
// them directly from go-flags struct tags.
type Options struct {
	// Workers is the number of concurrent execution workers. 0 means "use
	// runtime.GOMAXPROCS(0)", matching please's default.
	Workers int

	// Clean runs in clean mode: every target (and atomic group) in scope
	// has its output, stamp and implicit-inputs files removed instead of
	// being built.
	Clean bool

	// DryRun reports what would be built (in dependency order, respecting
	// priority) without invoking any target's Run.
	DryRun bool

	// IgnoreDeps makes the up-to-date check stop once the target's output is
	// found to exist: such a target counts as up to date whatever the state of
	// its dependencies and implicit inputs. A target whose output is missing
	// is still built.
	IgnoreDeps bool

	// KeepGoing continues scheduling independent work after a target
	// fails, rather than aborting the whole build at the first error
	// (spec.md §7).
	KeepGoing bool

	// Verify re-checks every target's non-target dependencies after a build
	// with no failures completes and reports (non-fatally) any that vanished.
	// Dependencies that were modified mid-build are not detected.
	Verify bool

	// RandomizePriorities shuffles same-priority ready targets instead of
	// taking them in a deterministic order, to shake out dependency bugs
	// that happen to be masked by a stable ordering. Mirrors please's
	// --shuffle flag in spirit.
	RandomizePriorities bool

	// DepGraphFile, if non-empty, receives a text dump of the resolved
	// dependency graph before execution starts (please's --dep_graph_file
	// equivalent), for offline inspection.
	DepGraphFile string

	// Profile, if non-empty, is a path to write a pprof CPU profile of the
	// scheduler run to.
	Profile string

	// LogCPUUtilisation logs one summary line when the build finishes, giving
	// the elapsed time and the worker count. Nothing is logged about worker
	// occupancy while the build is running.
	LogCPUUtilisation bool
}
