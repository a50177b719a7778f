package core

import (
	"sync"
	"sync/atomic"
)

// TargetState is the lifecycle state of a TargetWrapper during a build, held
// as an atomic.Int32 so the scheduler's worker goroutines can transition it
// with CompareAndSwap instead of a mutex (grounded on please's
// src/core/build_target.go, whose target state is likewise an
// int32 field advanced with sync/atomic, and src/build/worker.go's
// single-writer-at-a-time handoff between the resolution pool and the
// execution pool).
type TargetState int32

const (
	StatePending TargetState = iota
	StateQueued
	StateRunning
	StateUpToDate
	StateBuilt
	StateFailed
)

// TargetWrapper carries everything the resolver and scheduler need beyond
// what's in the user-facing Target: resolved dependency edges, reverse
// dependencies, outstanding dependency counters, and the mutable state
// machine that drives scheduling (spec.md §4.4).
type TargetWrapper struct {
	Target *Target

	// TargetDeps are the direct dependencies that are themselves targets,
	// resolved from Target.Deps.
	TargetDeps []*TargetWrapper
	// RDeps are the direct dependents: every wrapper whose TargetDeps
	// includes this one.
	RDeps []*TargetWrapper

	// NonTargetDeps are filesystem paths this target depends on that are
	// not outputs of any other registered target.
	NonTargetDeps []UnderlyingDependency

	// ResolvedInputs is the fully resolved (source, destination) pairs this
	// target's Run will receive, computed once during resolution.
	ResolvedInputs []ResolvedPath

	// AtomicGroup is non-nil if this target belongs to one; cleaning it
	// cleans every sibling member too, and it is skipped once a sibling has
	// failed. Whether it is rebuilt is decided by its own up-to-date check.
	AtomicGroup *AtomicGroup

	state               atomic.Int32
	outstandingDepCount atomic.Int32

	// EffectivePriority is Target.Priority widened by the maximum priority
	// of anything that (transitively) depends on this target, per spec.md
	// §4.4's priority propagation rule: a low-priority target feeding a
	// high-priority one should run as though it, too, were high priority.
	effectivePriority atomic.Int32

	// StampFile is the path whose mtime bounds "when this target last
	// succeeded" (spec.md §3 Stamp file): the output path itself for a file
	// target, or ImplicitInputsFile for a directory target. ImplicitInputsFile
	// is the per-target text artifact enumerating the implicit-inputs vector
	// from the last successful build (spec.md §3, §6). WorkDir is this
	// target's private scratch directory. All three are assigned once, by
	// Resolve, under BUILD_WORK_DIR.
	StampFile          string
	ImplicitInputsFile string
	WorkDir            string

	mu    sync.Mutex
	dirty bool

	vectorOnce sync.Once
	vector     []string
}

// NewTargetWrapper constructs a wrapper in StatePending with its effective
// priority seeded from the target's own declared priority.
func NewTargetWrapper(t *Target) *TargetWrapper {
	w := &TargetWrapper{Target: t}
	w.state.Store(int32(StatePending))
	w.effectivePriority.Store(int32(t.Priority))
	return w
}

// State returns the current lifecycle state.
func (w *TargetWrapper) State() TargetState {
	return TargetState(w.state.Load())
}

// TransitionTo attempts to move from `from` to `to`, returning false if
// another goroutine already moved it away from `from` first.
func (w *TargetWrapper) TransitionTo(from, to TargetState) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}

// SetState unconditionally sets the lifecycle state. Safe to call only from
// the single worker goroutine that currently owns this wrapper (the
// scheduler never lets two workers execute the same wrapper concurrently).
func (w *TargetWrapper) SetState(s TargetState) {
	w.state.Store(int32(s))
}

// EffectivePriority returns the current propagated priority.
func (w *TargetWrapper) EffectivePriority() int {
	return int(w.effectivePriority.Load())
}

// RaiseEffectivePriority widens the effective priority to at least p,
// returning true if it changed (so the resolver can decide whether to keep
// propagating to this wrapper's own dependencies).
func (w *TargetWrapper) RaiseEffectivePriority(p int) bool {
	for {
		cur := w.effectivePriority.Load()
		if int32(p) <= cur {
			return false
		}
		if w.effectivePriority.CompareAndSwap(cur, int32(p)) {
			return true
		}
	}
}

// SetOutstandingDepCount initializes the countdown of not-yet-satisfied
// target dependencies; the scheduler decrements it as each dependency
// finishes and becomes eligible to run once it reaches zero.
func (w *TargetWrapper) SetOutstandingDepCount(n int) {
	w.outstandingDepCount.Store(int32(n))
}

// DecrementOutstandingDeps decrements the countdown and reports whether it
// just reached zero (ie. this target is now eligible to run).
func (w *TargetWrapper) DecrementOutstandingDeps() bool {
	return w.outstandingDepCount.Add(-1) == 0
}

// OutstandingDepCount returns the current countdown value, chiefly for
// tests and dep-graph dumps.
func (w *TargetWrapper) OutstandingDepCount() int {
	return int(w.outstandingDepCount.Load())
}

// SetDirty sets the dirty flag and returns its value immediately prior to
// the call. Preserves the legacy dirty() contract noted in spec.md §9 Open
// Question (a): a locked read-and-set, reporting the prior value rather than
// the one just written, so a caller that only wants to know "was this
// already dirty" doesn't need a second call.
func (w *TargetWrapper) SetDirty(v bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.dirty
	w.dirty = v
	return prev
}

// IsDirty reports the current dirty flag.
func (w *TargetWrapper) IsDirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// ImplicitInputsVector returns this wrapper's implicit-inputs vector (spec.md
// §3, §4.5): target-dep stamp paths in target-name order, then sorted non-target-dep
// paths, then the target's hashable fingerprint lines. Computed exactly once
// per wrapper per build, lazily on first access from either UpToDate or a
// successful Run, per spec.md §4.5.
func (w *TargetWrapper) ImplicitInputsVector() []string {
	w.vectorOnce.Do(func() {
		w.vector = computeImplicitInputsVector(w)
	})
	return w.vector
}
