package core

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// ResolvedPath is one (source, destination) pair produced by resolving a
// PathSet against a BuildContext. AbsSource is an absolute, normalized
// filesystem path; RelDest is forward-slash-separated and relative to
// whatever the consumer (a target's Run) treats as its destination root —
// for most targets that's the target's own output directory.
type ResolvedPath struct {
	AbsSource string
	RelDest   string
}

// UnderlyingDependency is one thing a PathSet needs to exist (or needs
// another target to have already built) before its own resolution can be
// trusted, per spec.md §4.4's dependency-resolution walk. SkipExistenceCheck
// is set for dependencies on another target's declared output, since that
// existence is established by the target's own up-to-date/build step rather
// than a plain stat.
type UnderlyingDependency struct {
	AbsPath            string
	IsDirPath          bool
	TargetName         string // non-empty if this dependency is on a registered target
	SkipExistenceCheck bool
}

// PathSet is the core engine's dependency/input abstraction (spec.md §3,
// §4.2). It is deliberately lazy: constructing one never touches the
// filesystem or the target graph, so PathSets can be freely composed at
// build-script load time. Grounded on xpybuild's pathsets.py (see
// _examples/original_source/_INDEX.md) and, for the Go idiom of a small
// interface with wrapper types implementing the same interface around an
// inner value, on please's src/core/build_target.go BuildInput interface
// (Paths/FullPaths/LocalPaths/Label/String, wrapped by filegroup-style
// labels).
type PathSet interface {
	// ResolveWithDestinations returns every (source, destination) pair this
	// PathSet denotes, in deterministic order.
	ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error)
	// ResolveUnderlyingDependencies returns everything that must be
	// confirmed present (or built) before ResolveWithDestinations can be
	// trusted to return a stable answer.
	ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error)
}

// Literal is a fixed list of absolute or basedir-relative paths. Its
// destination for each entry is the path's own basename (or, for a
// directory entry, the directory's basename with a trailing slash),
// matching xpybuild's PathSet(...) plain-argument form.
type Literal struct {
	BaseDir string
	Paths   []string
}

// NewLiteral constructs a Literal PathSet, resolving each of paths against
// baseDir if not already absolute.
func NewLiteral(baseDir string, paths ...string) *Literal {
	return &Literal{BaseDir: baseDir, Paths: append([]string{}, paths...)}
}

func (l *Literal) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	var out []ResolvedPath
	for _, p := range l.Paths {
		abs := ctx.GetFullPath(p, l.BaseDir)
		dest := path.Base(strings.TrimSuffix(abs, "/"))
		if IsDirPath(abs) {
			dest += "/"
		}
		out = append(out, ResolvedPath{AbsSource: abs, RelDest: dest})
	}
	return out, nil
}

func (l *Literal) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	var out []UnderlyingDependency
	for _, p := range l.Paths {
		abs := ctx.GetFullPath(p, l.BaseDir)
		out = append(out, UnderlyingDependency{AbsPath: abs, IsDirPath: IsDirPath(abs)})
	}
	return out, nil
}

// DirBased depends on the directory's own existence (typically to pick up
// everything beneath it as an implicit input) without enumerating members
// individually; its destination set is empty since it contributes no
// copyable files on its own (combine with FindPaths for that).
type DirBased struct {
	AbsDir string
}

func NewDirBased(ctx *BuildContext, dir, baseDir string) *DirBased {
	return &DirBased{AbsDir: ctx.GetFullPath(EnsureTrailingSlash(dir), baseDir)}
}

func (d *DirBased) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	return nil, nil
}

func (d *DirBased) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return []UnderlyingDependency{{AbsPath: d.AbsDir, IsDirPath: true}}, nil
}

// FindPaths globs a directory tree for matching paths (spec.md §4.2),
// merging the context's global excludes in with its own. Per spec.md §3,
// FindPaths caches its resolved match list after the first resolve and must
// be thread-safe: a build script may share one FindPaths value across
// several targets, and callers may resolve it from several goroutines.
type FindPaths struct {
	BaseDir  string
	Dir      string
	Includes []string
	Excludes []string

	resolveOnce    sync.Once
	resolveRoot    string
	resolveMatches []string
	resolveErr     error
}

func (f *FindPaths) compile() (root string, includes, excludes []*CompiledGlob, err error) {
	for _, inc := range f.Includes {
		g, e := CompileGlob(inc)
		if e != nil {
			return "", nil, nil, e
		}
		includes = append(includes, g)
	}
	for _, exc := range f.Excludes {
		g, e := CompileGlob(exc)
		if e != nil {
			return "", nil, nil, e
		}
		excludes = append(excludes, g)
	}
	return f.Dir, includes, excludes, nil
}

// resolve returns this FindPaths' (root, matches), computing them at most
// once regardless of how many goroutines call in concurrently.
func (f *FindPaths) resolve(ctx *BuildContext) (root string, matches []string, err error) {
	f.resolveOnce.Do(func() {
		f.resolveRoot, f.resolveMatches, f.resolveErr = f.resolveUncached(ctx)
	})
	return f.resolveRoot, f.resolveMatches, f.resolveErr
}

func (f *FindPaths) resolveUncached(ctx *BuildContext) (root string, matches []string, err error) {
	root = ctx.GetFullPath(EnsureTrailingSlash(f.Dir), f.BaseDir)
	_, includes, excludes, err := f.compile()
	if err != nil {
		return root, nil, err
	}
	for _, pattern := range ctx.globalFindPathsExcludes {
		g, e := CompileGlob(pattern)
		if e != nil {
			return root, nil, e
		}
		excludes = append(excludes, g)
	}
	tracker := NewMatchTracker(includes)
	matches, err = GetMatches(root, includes, excludes, tracker)
	if err != nil {
		return root, nil, err
	}
	if unused := tracker.Unused(); len(unused) > 0 {
		return root, nil, NewBuildError(KindBuildError, fmt.Sprintf("FindPaths include pattern(s) matched nothing: %s", strings.Join(unused, ", ")))
	}
	return root, matches, nil
}

func (f *FindPaths) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	root, matches, err := f.resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedPath, 0, len(matches))
	for _, m := range matches {
		out = append(out, ResolvedPath{AbsSource: joinRel(root, m), RelDest: m})
	}
	return out, nil
}

func (f *FindPaths) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	root := ctx.GetFullPath(EnsureTrailingSlash(f.Dir), f.BaseDir)
	return []UnderlyingDependency{{AbsPath: root, IsDirPath: true}}, nil
}

// TargetsWithTag depends on every target carrying a given tag, resolving to
// each matching target's declared output path. Existence of those outputs
// is guaranteed by the dependency graph (those targets must have already
// built), not by a filesystem stat, so SkipExistenceCheck is set.
type TargetsWithTag struct {
	Tag              string
	AllowDirectories bool
}

func (t *TargetsWithTag) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	var out []ResolvedPath
	for _, target := range ctx.TargetsWithTag(t.Tag, t.AllowDirectories) {
		dest := path.Base(strings.TrimSuffix(target.Path, "/"))
		if target.isDirTarget {
			dest += "/"
		}
		out = append(out, ResolvedPath{AbsSource: NormalizeLongPath(target.Path), RelDest: dest})
	}
	return out, nil
}

func (t *TargetsWithTag) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	var out []UnderlyingDependency
	for _, target := range ctx.TargetsWithTag(t.Tag, t.AllowDirectories) {
		out = append(out, UnderlyingDependency{
			AbsPath:            NormalizeLongPath(target.Path),
			IsDirPath:          target.isDirTarget,
			TargetName:         target.Name,
			SkipExistenceCheck: true,
		})
	}
	return out, nil
}

// DirGeneratedByTarget depends on the output directory of a single named
// target, without requiring that target to carry any particular tag.
type DirGeneratedByTarget struct {
	TargetName string
}

func (d *DirGeneratedByTarget) lookup(ctx *BuildContext) (*Target, error) {
	target := ctx.TargetByName(d.TargetName)
	if target == nil {
		return nil, NewBuildError(KindDependencyResolution, fmt.Sprintf("DirGeneratedByTarget: no such target %q", d.TargetName))
	}
	if !target.isDirTarget {
		return nil, NewBuildError(KindDependencyResolution, fmt.Sprintf("DirGeneratedByTarget: target %q is not a directory target", d.TargetName))
	}
	return target, nil
}

func (d *DirGeneratedByTarget) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	target, err := d.lookup(ctx)
	if err != nil {
		return nil, err
	}
	return []ResolvedPath{{AbsSource: NormalizeLongPath(target.Path), RelDest: path.Base(strings.TrimSuffix(target.Path, "/")) + "/"}}, nil
}

func (d *DirGeneratedByTarget) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	target, err := d.lookup(ctx)
	if err != nil {
		return nil, err
	}
	return []UnderlyingDependency{{
		AbsPath:            NormalizeLongPath(target.Path),
		IsDirPath:          true,
		TargetName:         target.Name,
		SkipExistenceCheck: true,
	}}, nil
}

// Concat composes several PathSets into one, preserving order. Grounded on
// xpybuild's PathSet.__add__ operator overload.
type Concat struct {
	Inner []PathSet
}

func (c *Concat) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	var out []ResolvedPath
	for _, inner := range c.Inner {
		resolved, err := inner.ResolveWithDestinations(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

func (c *Concat) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	var out []UnderlyingDependency
	for _, inner := range c.Inner {
		deps, err := inner.ResolveUnderlyingDependencies(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, deps...)
	}
	return out, nil
}

// --- wrapper PathSets: each holds an Inner PathSet and transforms either
// its destinations or its source set without altering its underlying
// dependencies. ---

// Filtered keeps only the resolved pairs whose RelDest matches keep.
type Filtered struct {
	Inner PathSet
	Keep  func(relDest string) bool
}

func (w *Filtered) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	var out []ResolvedPath
	for _, r := range resolved {
		if w.Keep(r.RelDest) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (w *Filtered) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}

// AddDestPrefix prepends Prefix to every resolved destination.
type AddDestPrefix struct {
	Inner  PathSet
	Prefix string
}

func (w *AddDestPrefix) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedPath, len(resolved))
	for i, r := range resolved {
		out[i] = ResolvedPath{AbsSource: r.AbsSource, RelDest: joinRel(w.Prefix, r.RelDest)}
	}
	return out, nil
}

func (w *AddDestPrefix) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}

// RemoveDestParents strips the leading N path elements from every resolved
// destination (eg. to drop a common source-tree prefix when copying).
type RemoveDestParents struct {
	Inner PathSet
	Count int
}

func (w *RemoveDestParents) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedPath, len(resolved))
	for i, r := range resolved {
		elems := splitPathElements(r.RelDest)
		if len(elems) > w.Count {
			elems = elems[w.Count:]
		} else {
			elems = nil
		}
		newDest := strings.Join(elems, "/")
		if strings.HasSuffix(r.RelDest, "/") && newDest != "" {
			newDest += "/"
		}
		out[i] = ResolvedPath{AbsSource: r.AbsSource, RelDest: newDest}
	}
	return out, nil
}

func (w *RemoveDestParents) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}

// FlattenDest drops all destination directory structure, leaving just the
// basename, so every resolved file lands directly in the consumer's
// destination root.
type FlattenDest struct {
	Inner PathSet
}

func (w *FlattenDest) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedPath, len(resolved))
	for i, r := range resolved {
		out[i] = ResolvedPath{AbsSource: r.AbsSource, RelDest: path.Base(strings.TrimSuffix(r.RelDest, "/"))}
	}
	return out, nil
}

func (w *FlattenDest) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}

// MapSrc applies fn to every resolved absolute source path, leaving
// destinations untouched. Used, eg., to retarget a dependency onto a
// sibling generated file without changing how it's laid out at the
// destination.
type MapSrc struct {
	Inner PathSet
	Fn    func(absSource string) string
}

func (w *MapSrc) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedPath, len(resolved))
	for i, r := range resolved {
		out[i] = ResolvedPath{AbsSource: w.Fn(r.AbsSource), RelDest: r.RelDest}
	}
	return out, nil
}

func (w *MapSrc) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}

// MapDest applies fn to every resolved destination path.
type MapDest struct {
	Inner PathSet
	Fn    func(relDest string) string
}

func (w *MapDest) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedPath, len(resolved))
	for i, r := range resolved {
		out[i] = ResolvedPath{AbsSource: r.AbsSource, RelDest: w.Fn(r.RelDest)}
	}
	return out, nil
}

func (w *MapDest) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}

// SingletonDestRename renames the sole resolved destination of Inner to To.
// It is an error for Inner to resolve to anything other than exactly one
// path, matching xpybuild's rule that this wrapper only ever wraps a
// single-file PathSet.
type SingletonDestRename struct {
	Inner PathSet
	To    string
}

func (w *SingletonDestRename) ResolveWithDestinations(ctx *BuildContext) ([]ResolvedPath, error) {
	resolved, err := w.Inner.ResolveWithDestinations(ctx)
	if err != nil {
		return nil, err
	}
	if len(resolved) != 1 {
		return nil, NewBuildError(KindBuildError, fmt.Sprintf("SingletonDestRename requires exactly one resolved path, got %d", len(resolved)))
	}
	return []ResolvedPath{{AbsSource: resolved[0].AbsSource, RelDest: w.To}}, nil
}

func (w *SingletonDestRename) ResolveUnderlyingDependencies(ctx *BuildContext) ([]UnderlyingDependency, error) {
	return w.Inner.ResolveUnderlyingDependencies(ctx)
}
