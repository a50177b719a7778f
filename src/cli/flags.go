package cli

import (
	flags "github.com/thought-machine/go-flags"
)

// Opts is the top-level command-line option struct, bound by go-flags.
// Field grouping and naming follow please's own src/please.go opts struct,
// which groups build-affecting flags under a "BuildFlags"-style nested
// struct rather than a single flat list.
type Opts struct {
	Usage string `usage:"xbuild is an extensible incremental build engine."`

	Verbosity Verbosity `short:"v" long:"verbosity" description:"Verbosity of output (error, warning, info, debug)" default:"info"`
	LogFile   string    `long:"log_file" description:"File to additionally log to, at --log_file_level"`
	LogFileLevel Verbosity `long:"log_file_level" description:"Log level for --log_file" default:"debug"`

	BuildFlags struct {
		Workers             int    `short:"n" long:"num_threads" description:"Number of concurrent build workers (0 = use all CPUs)"`
		Clean               bool   `short:"c" long:"clean" description:"Clean outputs instead of building"`
		DryRun              bool   `long:"dry_run" description:"Print what would be built without building it"`
		IgnoreDeps          bool   `long:"ignore_deps" description:"Treat any target whose output exists as up to date, ignoring its dependencies"`
		KeepGoing           bool   `short:"k" long:"keep_going" description:"Keep building independent targets after a failure"`
		Verify              bool   `long:"verify" description:"Re-check dependencies after the build and report any that vanished"`
		RandomizePriorities bool   `long:"shuffle" description:"Shuffle same-priority targets instead of using a deterministic order"`
		DepGraphFile        string `long:"dep_graph_file" description:"Write a text dump of the resolved dependency graph to this file"`
		Profile             string `long:"profile_file" description:"Write a CPU profile to this file"`
		LogCPUUtilisation   bool   `long:"log_cpu_utilisation" description:"Log elapsed time and worker count when the build finishes"`
		Yes                 bool   `short:"y" long:"yes" description:"Don't prompt for confirmation before cleaning"`
	} `group:"Build flags"`

	PropertyOverrides map[string]string `short:"P" long:"property" description:"Override a build-script property, eg. -P OUTPUT_DIR:/tmp/out"`

	Args struct {
		Targets []string `positional-arg-name:"targets" description:"Targets to build (default: all)"`
	} `positional-args:"yes"`
}

// ParseArgs parses argv (excluding the program name) into an Opts, applying
// go-flags' usual --help handling.
func ParseArgs(argv []string) (*Opts, error) {
	opts := &Opts{}
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}
	return opts, nil
}
