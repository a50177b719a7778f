// Package cli contains helpers related to flag parsing, logging and the
// driver-facing surface described in spec.md §6 ("Command line / driver
// surface").
package cli

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/op/go-logging.v1"
)

// Log is the logger used by the command-line driver. The core package has
// its own "core" logger, and the scheduler writes its messages straight to
// stderr rather than through a logger.
var Log = logging.MustGetLogger("xbuild")

// Verbosity controls how much is logged. Re-exported op/go-logging levels so
// callers (and go-flags, via the UnmarshalFlag method below) don't need
// to import the logging package directly.
type Verbosity logging.Level

// Verbosity levels, ordered least to most verbose.
const (
	Error Verbosity = Verbosity(logging.ERROR)
	Warn  Verbosity = Verbosity(logging.WARNING)
	Info  Verbosity = Verbosity(logging.INFO)
	Debug Verbosity = Verbosity(logging.DEBUG)
)

var verbosityNames = map[string]Verbosity{
	"error":   Error,
	"warning": Warn,
	"info":    Info,
	"debug":   Debug,
}

// UnmarshalFlag implements the go-flags Unmarshaler interface so Verbosity
// can be used directly as a CLI flag type.
func (v *Verbosity) UnmarshalFlag(value string) error {
	if level, present := verbosityNames[value]; present {
		*v = level
		return nil
	}
	return fmt.Errorf("unknown verbosity %q", value)
}

var currentBackend logging.Backend
var fileBackend logging.Backend

// InitLogging sets up the interactive stderr logging backend at the given
// verbosity. Must be called once at process start.
func InitLogging(verbosity Verbosity) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logFormatter(isTerminal(os.Stderr)))
	levelled := logging.AddModuleLevel(formatted)
	levelled.SetLevel(logging.Level(verbosity), "")
	currentBackend = levelled
	setBackends()
}

// InitFileLogging adds a second backend that mirrors all log output (at its
// own, independently configurable level) to a file. Used so a build's full
// log survives even when the console only shows warnings and above.
func InitFileLogging(logFile string, level Verbosity) error {
	if err := os.MkdirAll(path.Dir(logFile), 0775); err != nil {
		return fmt.Errorf("creating log file directory: %w", err)
	}
	file, err := os.Create(logFile)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	backend := logging.NewLogBackend(file, "", 0)
	formatted := logging.NewBackendFormatter(backend, logFormatter(false))
	levelled := logging.AddModuleLevel(formatted)
	levelled.SetLevel(logging.Level(level), "")
	fileBackend = levelled
	setBackends()
	return nil
}

func setBackends() {
	if fileBackend != nil {
		logging.SetBackend(currentBackend, fileBackend)
	} else {
		logging.SetBackend(currentBackend)
	}
}

func logFormatter(coloured bool) logging.Formatter {
	format := "%{time:15:04:05.000} %{level:7s}: %{message}"
	if coloured {
		format = "%{color}" + format + "%{color:reset}"
	}
	return logging.MustStringFormatter(format)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
