package core

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/cespare/xxhash/v2"
)

// Graph is the fully resolved dependency graph produced by Resolve: one
// TargetWrapper per registered target, with every edge, reverse edge and
// outstanding-dependency countdown already computed (spec.md §4.4). It is
// built once, single-threaded, before the scheduler starts any worker.
type Graph struct {
	Context  *BuildContext
	Wrappers map[string]*TargetWrapper // keyed by lower-cased target name
}

// WrapperFor returns the wrapper for a target by its display name, or nil.
func (g *Graph) WrapperFor(name string) *TargetWrapper {
	return g.Wrappers[strings.ToLower(name)]
}

// Resolve walks every registered target's PathSet exactly once (spec.md
// §4.4), building the full TargetWrapper graph: target/non-target
// dependency edges (with atomic-group mates folded in), reverse
// dependencies, duplicate-output and output-directory-escape validation,
// cycle detection, initial outstanding-dependency counts, effective
// priorities, and each target's persisted-artifact paths. It deliberately
// runs single-threaded — please's own dependency resolution
// (src/core/graph.go AddTarget / state machine) is likewise a sequential
// pass that only hands off to worker goroutines once the graph is
// complete.
func Resolve(ctx *BuildContext) (*Graph, error) {
	g := &Graph{Context: ctx, Wrappers: map[string]*TargetWrapper{}}

	targets := ctx.AllTargets()
	for _, t := range targets {
		g.Wrappers[strings.ToLower(t.Name)] = NewTargetWrapper(t)
	}

	if err := tagAtomicGroups(g); err != nil {
		return nil, err
	}

	// Keyed by an xxhash digest of the normalized output path rather than
	// the path string itself: duplicate-output detection runs once per
	// target over the whole graph, and a 64-bit digest comparison is
	// cheaper than repeated string hashing/equality over what can be long
	// absolute paths (SPEC_FULL.md §10's "path-identity hashing" use of
	// xxhash).
	outputOwner := map[uint64]string{} // xxhash(normalized output path) -> owning target name

	for _, t := range targets {
		w := g.Wrappers[strings.ToLower(t.Name)]

		normOutput := NormalizeLongPath(t.Path)
		outputKey := xxhash.Sum64String(normOutput)
		if owner, present := outputOwner[outputKey]; present {
			return nil, NewBuildError(KindBuildError, fmt.Sprintf("targets %q and %q both produce %q", owner, t.Name, t.Path)).WithLocation(t.Location)
		}
		outputOwner[outputKey] = t.Name

		for _, dir := range ctx.OutputDirs() {
			if NormalizeLongPath(EnsureTrailingSlash(t.Path)) == dir {
				return nil, NewBuildError(KindBuildError, fmt.Sprintf("target %q writes to the declared output directory %q itself", t.Name, dir)).WithLocation(t.Location)
			}
		}

		// Targets are expected to write inside a declared output dir (writing
		// to the dir itself is rejected just above); a non-target dependency
		// resolving inside one is rejected per-dependency below.

		if t.Deps == nil {
			continue
		}
		resolvedInputs, err := t.Deps.ResolveWithDestinations(ctx)
		if err != nil {
			return nil, NewBuildError(KindDependencyResolution, "resolving dependencies").WithTarget(t.Name).WithLocation(t.Location).WithCause(err)
		}
		w.ResolvedInputs = resolvedInputs

		underlying, err := t.Deps.ResolveUnderlyingDependencies(ctx)
		if err != nil {
			return nil, NewBuildError(KindDependencyResolution, "resolving underlying dependencies").WithTarget(t.Name).WithLocation(t.Location).WithCause(err)
		}

		seenDepTargets := map[string]bool{}
		for _, dep := range underlying {
			if dep.TargetName != "" {
				depKey := strings.ToLower(dep.TargetName)
				if seenDepTargets[depKey] {
					continue
				}
				seenDepTargets[depKey] = true
				depWrapper := g.Wrappers[depKey]
				if depWrapper == nil {
					return nil, NewBuildError(KindDependencyResolution, fmt.Sprintf("depends on unknown target %q", dep.TargetName)).WithTarget(t.Name).WithLocation(t.Location)
				}
				if depWrapper == w {
					// self is removed, per spec.md §4.4.
					continue
				}
				w.TargetDeps = append(w.TargetDeps, depWrapper)
				continue
			}
			if !dep.SkipExistenceCheck && ctx.IsInsideOutputDir(dep.AbsPath) {
				return nil, NewBuildError(KindDependencyResolution, fmt.Sprintf("non-target dependency %q resolves inside a declared output directory", dep.AbsPath)).WithTarget(t.Name).WithLocation(t.Location)
			}
			w.NonTargetDeps = append(w.NonTargetDeps, dep)
		}
	}

	augmentAtomicGroupDeps(g)

	for _, w := range g.Wrappers {
		sort.Slice(w.TargetDeps, func(i, j int) bool { return w.TargetDeps[i].Target.Name < w.TargetDeps[j].Target.Name })
		sort.Slice(w.NonTargetDeps, func(i, j int) bool { return w.NonTargetDeps[i].AbsPath < w.NonTargetDeps[j].AbsPath })
	}

	depEdges := map[string][]string{} // for cycle detection: target name -> dependency target names
	for _, w := range g.Wrappers {
		for _, dep := range w.TargetDeps {
			dep.RDeps = append(dep.RDeps, w)
			depEdges[w.Target.Name] = append(depEdges[w.Target.Name], dep.Target.Name)
		}
	}

	if cycle := DetectCycle(depEdges); cycle != nil {
		return nil, NewBuildError(KindDependencyResolution, fmt.Sprintf("dependency cycle: %s", FormatCycle(cycle)))
	}

	for _, w := range g.Wrappers {
		w.SetOutstandingDepCount(len(w.TargetDeps))
	}

	propagatePriorities(g)

	if err := assignPersistedArtifactPaths(ctx, g); err != nil {
		return nil, err
	}

	return g, nil
}

// tagAtomicGroups attaches each declared AtomicGroup to its member wrappers,
// so the dependent-augmentation pass below (and the scheduler's
// failed-sibling check) can recognise group membership.
func tagAtomicGroups(g *Graph) error {
	for _, group := range g.Context.atomicGroups {
		for _, member := range group.Members() {
			w := g.WrapperFor(member.Name)
			if w == nil {
				return NewBuildError(KindBuildError, fmt.Sprintf("atomic group member %q is not a registered target", member.Name))
			}
			w.AtomicGroup = group
		}
	}
	return nil
}

// augmentAtomicGroupDeps implements spec.md §3/§4.4's Atomic Target Group
// rule: "for every target dep that is a member of an atomic group, add all
// other group members as additional target deps". If Z depends on X, and X
// is in an atomic group with Y, Z gains Y as an additional target dep too —
// so Y is guaranteed to finish before Z runs, even though Z never names Y
// directly (spec.md §8 scenario S5).
//
// This does NOT add edges between the group's own members (X does not gain
// Y as a dep, or vice versa): that would make every member wait on its
// siblings' outstanding-dep count before it could even be queued, and since
// all siblings start in the same state, the whole group would deadlock at
// outstanding-count > 0 forever. Members share fate some other way — the
// scheduler's failed-sibling check in the worker loop — without affecting
// scheduling order. Only a member's *dependents* gain the extra edges.
func augmentAtomicGroupDeps(g *Graph) {
	for _, w := range g.Wrappers {
		present := map[*TargetWrapper]bool{}
		for _, d := range w.TargetDeps {
			present[d] = true
		}
		var extra []*TargetWrapper
		for _, d := range w.TargetDeps {
			if d.AtomicGroup == nil {
				continue
			}
			for _, member := range d.AtomicGroup.Members() {
				mate := g.WrapperFor(member.Name)
				if mate == nil || mate == w || present[mate] {
					continue
				}
				present[mate] = true
				extra = append(extra, mate)
			}
		}
		w.TargetDeps = append(w.TargetDeps, extra...)
	}
}

// propagatePriorities widens every target's effective priority to be at
// least as high as every one of its (transitive) dependents, per spec.md
// §4.4: a target feeding a high-priority consumer should itself run early.
// It works backwards from each RDeps edge via a fixed-point relaxation,
// equivalent to a reverse topological walk but simpler to express correctly
// over a DAG that's already known to be acyclic.
func propagatePriorities(g *Graph) {
	changed := true
	for changed {
		changed = false
		for _, w := range g.Wrappers {
			for _, dep := range w.TargetDeps {
				if dep.RaiseEffectivePriority(w.EffectivePriority()) {
					changed = true
				}
			}
		}
	}
}

// assignPersistedArtifactPaths lays out each target's work directory,
// implicit-inputs file and stamp file under BUILD_WORK_DIR/targets (spec.md
// §6 Persisted artifacts). The spec's layout nests these under a
// per-target-class directory; this engine has no notion of target class
// (target implementations are external collaborators per spec.md §1), so
// the layout is flattened to BUILD_WORK_DIR/targets/<unique_id> and
// BUILD_WORK_DIR/targets/implicit-inputs/<unique_id>.txt (documented in
// DESIGN.md).
func assignPersistedArtifactPaths(ctx *BuildContext, g *Graph) error {
	base, err := ctx.GetProperty("BUILD_WORK_DIR")
	if err != nil {
		return NewBuildError(KindInternal, "BUILD_WORK_DIR property is not defined").WithCause(err)
	}
	targetsRoot := joinRel(ctx.GetFullPath(base, "."), "targets")
	implicitRoot := joinRel(targetsRoot, "implicit-inputs")

	occupied := map[string]bool{}
	for _, t := range ctx.AllTargets() {
		w := g.WrapperFor(t.Name)
		w.WorkDir = t.EnsureWorkDir(targetsRoot, func(candidate string) bool { return occupied[candidate] })
		occupied[w.WorkDir] = true

		uniqueID := path.Base(w.WorkDir)
		w.ImplicitInputsFile = joinRel(implicitRoot, uniqueID+".txt")
		if t.IsDirTarget() {
			w.StampFile = w.ImplicitInputsFile
		} else {
			w.StampFile = NormalizeLongPath(t.Path)
		}
	}
	return nil
}

// DumpSelectedTargets writes a human-readable listing of every resolved
// target, its effective priority and its target deps (spec.md §6
// "selected-targets.txt"), for offline inspection after resolution.
// shellescape.Quote is used so a target name containing shell-significant
// characters still round-trips through a terminal when this file is paged
// through or grepped alongside subprocess command lines (SPEC_FULL.md §11
// item 4).
func DumpSelectedTargets(ctx *BuildContext, g *Graph) error {
	base, err := ctx.GetProperty("BUILD_WORK_DIR")
	if err != nil {
		return NewBuildError(KindInternal, "BUILD_WORK_DIR property is not defined").WithCause(err)
	}
	targetsRoot := joinRel(ctx.GetFullPath(base, "."), "targets")
	outPath := joinRel(targetsRoot, "selected-targets.txt")

	var buf strings.Builder
	names := make([]string, 0, len(g.Wrappers))
	for key := range g.Wrappers {
		names = append(names, key)
	}
	sort.Strings(names)
	for _, key := range names {
		w := g.Wrappers[key]
		deps := make([]string, 0, len(w.TargetDeps))
		for _, dep := range w.TargetDeps {
			deps = append(deps, shellescape.Quote(dep.Target.Name))
		}
		fmt.Fprintf(&buf, "%s priority=%d deps=%s\n", shellescape.Quote(w.Target.Name), w.EffectivePriority(), strings.Join(deps, " "))
	}

	if err := os.MkdirAll(path.Dir(outPath), 0775); err != nil {
		return NewBuildError(KindInternal, "creating work directory for selected-targets.txt").WithCause(err)
	}
	return os.WriteFile(outPath, []byte(buf.String()), 0664)
}
