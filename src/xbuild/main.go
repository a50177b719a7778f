// Command xbuild is the command-line driver for the build engine: it parses
// flags, loads a build script via an externally supplied loader (build
// script parsing itself is an external collaborator, per SPEC_FULL.md §1
// Non-goals), freezes the resulting InitializationContext, resolves the
// dependency graph, and hands it to the scheduler.
//
// Grounded on please's src/please.go, which performs the same
// flags-parse / logging-init / core.State-build / plz.Run sequence from a
// single flat main package.
package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/xpybuild/xbuild-go/src/cli"
	"github.com/xpybuild/xbuild-go/src/core"
	"github.com/xpybuild/xbuild-go/src/scheduler"
)

// ScriptLoader is supplied by whatever build-script front end is driving
// this engine (eg. a Starlark or YAML parser living outside this module);
// it populates ic with properties, options, and targets before the build
// context is frozen.
type ScriptLoader func(ic *core.InitializationContext) error

// loaders is populated by an external front end via RegisterLoader before
// main runs; this engine ships no script format of its own.
var loaders []ScriptLoader

// RegisterLoader lets an external front end contribute a ScriptLoader
// without this package needing to import that front end's package (which
// would invert the dependency direction the Non-goal requires).
func RegisterLoader(l ScriptLoader) {
	loaders = append(loaders, l)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	opts, err := cli.ParseArgs(argv)
	if err != nil {
		return 1
	}

	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		if err := cli.InitFileLogging(opts.LogFile, opts.LogFileLevel); err != nil {
			cli.Log.Errorf("%s", err)
			return 1
		}
	}

	ic := core.NewInitializationContext()
	ic.EnableEnvironmentOverrides("XBUILD_")
	for name, value := range opts.PropertyOverrides {
		ic.OverridePropertyFromCLI(name, value)
	}

	for _, loader := range loaders {
		if err := loader(ic); err != nil {
			cli.Log.Errorf("loading build script: %s", err)
			return 1
		}
	}
	if len(loaders) == 0 {
		cli.Log.Errorf("no build script loader registered; this binary must be linked with a front end that calls xbuild.RegisterLoader")
		return 1
	}

	bc := ic.Freeze()

	if err := core.ReconcileVersionFile(bc); err != nil {
		cli.Log.Errorf("%s", err)
		return 1
	}

	if err := bc.RunPreBuildChecks(); err != nil {
		cli.Log.Errorf("%s", err)
		return 1
	}

	graph, err := core.Resolve(bc)
	if err != nil {
		cli.Log.Errorf("%s", err)
		return 1
	}
	if err := core.DumpSelectedTargets(bc, graph); err != nil {
		cli.Log.Warningf("writing selected-targets.txt: %s", err)
	}

	scheduler.CleanConfirm = !opts.BuildFlags.Yes

	result, err := scheduler.Run(graph, scheduler.Options{
		Workers:             opts.BuildFlags.Workers,
		Clean:               opts.BuildFlags.Clean,
		DryRun:              opts.BuildFlags.DryRun,
		IgnoreDeps:          opts.BuildFlags.IgnoreDeps,
		KeepGoing:           opts.BuildFlags.KeepGoing,
		Verify:              opts.BuildFlags.Verify,
		RandomizePriorities: opts.BuildFlags.RandomizePriorities,
		DepGraphFile:        opts.BuildFlags.DepGraphFile,
		Profile:             opts.BuildFlags.Profile,
		LogCPUUtilisation:   opts.BuildFlags.LogCPUUtilisation,
	})
	if err != nil {
		cli.Log.Errorf("build failed: %s", err)
		if result != nil {
			printSummary(result)
		}
		return 1
	}

	printSummary(result)
	if result.Verification != nil && !result.Verification.Empty() {
		for _, verr := range result.Verification.Errors() {
			cli.Log.Warningf("%s", verr)
		}
	}
	return 0
}

func printSummary(r *scheduler.Result) {
	fmt.Fprintf(os.Stderr, "built %d, up to date %d, failed %d, in %s\n", r.Built, r.UpToDate, r.Failed, r.Duration)
}
