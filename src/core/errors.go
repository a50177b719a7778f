package core

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrorKind classifies a build error the way spec.md §7 does. It doesn't
// change Go's error semantics but lets callers (notably the scheduler)
// decide whether keep_going applies.
type ErrorKind int

const (
	// KindBuildError covers user-facing mistakes: missing properties, cyclic
	// deps, globs that matched nothing, duplicate targets, unsafe paths.
	KindBuildError ErrorKind = iota
	// KindDependencyResolution covers failures discovered before execution
	// starts: missing non-target deps, deps inside an output dir, unknown
	// DirGeneratedByTarget references. keep_going never applies to these.
	KindDependencyResolution
	// KindTargetExecution covers a target's run() raising any error.
	KindTargetExecution
	// KindClean covers cleanup failures, which are recorded but never fatal.
	KindClean
	// KindVerification covers deps that vanished or changed after a target's
	// run() completed. Recorded, but never aborts the build (see DESIGN.md
	// Open Question (b)).
	KindVerification
	// KindInternal covers invariant violations; these should be rare enough
	// to warrant a stack trace when encountered.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindBuildError:
		return "BuildError"
	case KindDependencyResolution:
		return "DependencyResolutionError"
	case KindTargetExecution:
		return "TargetExecutionError"
	case KindClean:
		return "CleanError"
	case KindVerification:
		return "VerificationError"
	case KindInternal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// SourceLocation identifies where in a build script a target (or PathSet)
// was declared, for inclusion in error messages. The build-script loader is
// an external collaborator (spec.md §1) so it is the loader's job to
// populate this; the engine only ever carries it through.
type SourceLocation struct {
	File string
	Line int
}

func (l SourceLocation) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// BuildError is the engine's single structured error type, corresponding to
// xpybuild's BuildException (see _examples/original_source/buildexceptions.py):
// a user-facing message, an optional source location, and an optional
// wrapped cause whose single-line summary is appended with " : ".
type BuildError struct {
	Kind     ErrorKind
	Target   string // display name of the target this error concerns, if any
	Message  string
	Location SourceLocation
	Cause    error
}

// NewBuildError constructs a BuildError with no target or cause attached.
// Callers typically chain WithTarget/WithCause/WithLocation afterwards.
func NewBuildError(kind ErrorKind, message string) *BuildError {
	return &BuildError{Kind: kind, Message: message}
}

// WithTarget attaches a target display name, returning the same error for
// chaining.
func (e *BuildError) WithTarget(target string) *BuildError {
	e.Target = target
	return e
}

// WithLocation attaches a source location.
func (e *BuildError) WithLocation(loc SourceLocation) *BuildError {
	e.Location = loc
	return e
}

// WithCause wraps a lower-level error, whose message is appended to this
// error's own message joined by " : ", matching xpybuild's causedBy
// behaviour.
func (e *BuildError) WithCause(cause error) *BuildError {
	e.Cause = cause
	return e
}

// Error implements the error interface. Format: "target: message (location) : cause",
// with each of the target, location and cause parts left out when empty.
func (e *BuildError) Error() string {
	msg := e.Message
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %s", e.Target, msg)
	}
	if loc := e.Location.String(); loc != "" {
		msg = fmt.Sprintf("%s (%s)", msg, loc)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s : %s", msg, e.Cause.Error())
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// ErrorList aggregates errors encountered during a keep_going build. It's a
// thin wrapper over hashicorp/go-multierror, matching how please's src/build
// package accumulates failures across worker goroutines. It does no locking
// of its own: callers that add from several goroutines serialize access.
type ErrorList struct {
	merr *multierror.Error
}

// Add appends an error to the list. Safe to call from multiple goroutines
// only if the caller serializes access (the scheduler holds its own mutex
// around this; see scheduler.go).
func (l *ErrorList) Add(err error) {
	l.merr = multierror.Append(l.merr, err)
}

// Empty returns true if no errors have been added.
func (l *ErrorList) Empty() bool {
	return l.merr == nil || len(l.merr.Errors) == 0
}

// Len returns the number of accumulated errors.
func (l *ErrorList) Len() int {
	if l.merr == nil {
		return 0
	}
	return len(l.merr.Errors)
}

// Errors returns the accumulated errors in the order they were added.
func (l *ErrorList) Errors() []error {
	if l.merr == nil {
		return nil
	}
	return l.merr.Errors
}

// ErrorOrNil returns nil if the list is empty, else an error whose message
// enumerates every accumulated failure.
func (l *ErrorList) ErrorOrNil() error {
	if l.Empty() {
		return nil
	}
	return l.merr.ErrorOrNil()
}
