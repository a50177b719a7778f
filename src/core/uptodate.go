package core

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// UpToDateResult records the outcome of a single target's up-to-date check,
// with enough detail to explain a rebuild decision in verbose logging.
type UpToDateResult struct {
	UpToDate bool
	Reason   string
}

// hasImplicitInputs reports whether w's implicit-inputs vector can be
// non-empty: it has any target or non-target dependency, or any
// target-contributed hashable fingerprint line. Directory targets always
// carry an implicit-inputs file regardless (spec.md §4.5 step 4), since it
// doubles as their stamp file.
func hasImplicitInputs(w *TargetWrapper) bool {
	return len(w.TargetDeps) > 0 || len(w.NonTargetDeps) > 0 || len(w.Target.HashableImplicitInputs) > 0
}

// implicitInputsLineEscaper escapes CR/LF inside a hashable fingerprint line
// so the implicit-inputs file stays one entry per line and diffs readably
// (spec.md §4.5: "CR and LF inside these strings are escaped").
var implicitInputsLineEscaper = strings.NewReplacer("\r", "\\r", "\n", "\\n")

// computeImplicitInputsVector builds the ordered implicit-inputs vector for
// w (spec.md §3 Implicit-inputs file, §4.5): target-dep stamp paths in
// target-name order, then sorted non-target-dep paths, then the target's own hashable
// fingerprint lines, each CR/LF-escaped. TargetDeps and NonTargetDeps are
// already sorted by Resolve (spec.md §4.4), so no further sort is needed
// for them here; HashableImplicitInputs is sorted independently since it
// carries no inherent order from the build script.
func computeImplicitInputsVector(w *TargetWrapper) []string {
	vector := make([]string, 0, len(w.TargetDeps)+len(w.NonTargetDeps)+len(w.Target.HashableImplicitInputs))
	for _, dep := range w.TargetDeps {
		vector = append(vector, dep.StampFile)
	}
	for _, dep := range w.NonTargetDeps {
		vector = append(vector, dep.AbsPath)
	}
	implicit := append([]string{}, w.Target.HashableImplicitInputs...)
	sort.Strings(implicit)
	for _, s := range implicit {
		vector = append(vector, implicitInputsLineEscaper.Replace(s))
	}
	return vector
}

// UpToDate performs the full up-to-date evaluation for a target (spec.md
// §4.5), checked in order with the first failure short-circuiting:
//
//  1. w is not marked dirty (a rebuilt dependency marks its rdeps dirty).
//  2. The declared output exists (direct stat, bypassing statCache, since a
//     sibling target may have just written nearby and a cached entry could
//     be stale).
//  3. If ignoreDeps is set, return up to date now.
//  4. If w has implicit inputs or is a directory target, the implicit-inputs
//     file exists and matches the freshly computed vector line for line.
//  5. stamp_mtime is the mtime of w.StampFile.
//  6. No target dep's own stamp is newer than stamp_mtime.
//  7. No non-directory non-target dep is newer than stamp_mtime.
func UpToDate(w *TargetWrapper, ignoreDeps bool) (*UpToDateResult, error) {
	result := &UpToDateResult{}

	if w.IsDirty() {
		result.Reason = "marked dirty by a rebuilt dependency"
		return result, nil
	}

	if _, err := UncachedStat(NormalizeLongPath(w.Target.Path)); err != nil {
		result.Reason = "declared output does not exist"
		return result, nil
	}

	if ignoreDeps {
		result.UpToDate = true
		return result, nil
	}

	if hasImplicitInputs(w) || w.Target.IsDirTarget() {
		vector := w.ImplicitInputsVector()
		onDisk, present, err := readImplicitInputsLines(w.ImplicitInputsFile)
		if err != nil {
			return nil, NewBuildError(KindInternal, "reading implicit inputs file").WithTarget(w.Target.Name).WithCause(err)
		}
		if !present || !equalLines(onDisk, vector) {
			logImplicitInputsDiff(w.Target.Name, onDisk, vector)
			result.Reason = "the implicit-inputs vector changed since the last build"
			return result, nil
		}
	}

	stampInfo, err := UncachedStat(w.StampFile)
	if err != nil {
		result.Reason = "no stamp file from a previous build"
		return result, nil
	}
	stampMtime := stampInfo.ModTime()

	for _, dep := range w.TargetDeps {
		depInfo, err := UncachedStat(dep.StampFile)
		if err != nil {
			result.Reason = fmt.Sprintf("dependency %q has no stamp of its own", dep.Target.Name)
			return result, nil
		}
		if isNewer(w.Target.Name, dep.Target.Name, depInfo.ModTime(), stampMtime) {
			result.Reason = fmt.Sprintf("dependency %q is newer than the last build", dep.Target.Name)
			return result, nil
		}
	}

	for _, dep := range w.NonTargetDeps {
		if dep.IsDirPath {
			continue
		}
		info, err := UncachedStat(dep.AbsPath)
		if err != nil {
			result.Reason = fmt.Sprintf("dependency %q no longer exists", dep.AbsPath)
			return result, nil
		}
		if isNewer(w.Target.Name, dep.AbsPath, info.ModTime(), stampMtime) {
			result.Reason = fmt.Sprintf("dependency %q is newer than the last build", dep.AbsPath)
			return result, nil
		}
	}

	result.UpToDate = true
	return result, nil
}

// isNewer reports whether depMtime is strictly after stampMtime, logging a
// warning if the gap is under a second (spec.md §4.5: "A 'newer' check with
// a gap of less than one second logs a warning (suggests concurrent
// modification or filesystem-resolution hazard)").
func isNewer(targetName, depName string, depMtime, stampMtime time.Time) bool {
	if !depMtime.After(stampMtime) {
		return false
	}
	if gap := depMtime.Sub(stampMtime); gap < time.Second {
		log.Warningf("%s: dependency %s is only %s newer than the last build; possible clock or filesystem timestamp resolution hazard", targetName, depName, gap)
	}
	return true
}

// logImplicitInputsDiff logs a capped-length diff between the on-disk
// implicit-inputs file and the freshly computed vector (spec.md §4.5: "A
// diff is logged on mismatch (capped length)").
func logImplicitInputsDiff(targetName string, onDisk, fresh []string) {
	const maxDiffLines = 10
	log.Debugf("%s: implicit-inputs mismatch, had %d line(s) now %d", targetName, len(onDisk), len(fresh))
	for i := 0; i < maxDiffLines && (i < len(onDisk) || i < len(fresh)); i++ {
		var oldLine, newLine string
		if i < len(onDisk) {
			oldLine = onDisk[i]
		}
		if i < len(fresh) {
			newLine = fresh[i]
		}
		if oldLine != newLine {
			log.Debugf("%s: implicit-inputs line %d: %q -> %q", targetName, i, oldLine, newLine)
		}
	}
}

// equalLines compares two implicit-inputs vectors line for line.
func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RecordBuildOutcome writes the implicit-inputs file after a successful
// (re)build, so a later UpToDate call can recognise this state (spec.md
// §4.6 step 3). For a file target this doubles as the only write needed:
// the stamp file *is* the output Run just produced. For a directory target,
// the implicit-inputs file also serves as the stamp file, so writing it here
// is what advances stamp_mtime.
func RecordBuildOutcome(w *TargetWrapper) error {
	if !hasImplicitInputs(w) && !w.Target.IsDirTarget() {
		return nil
	}
	if err := writeImplicitInputsLines(w.ImplicitInputsFile, w.ImplicitInputsVector()); err != nil {
		return NewBuildError(KindInternal, "writing implicit inputs file").WithTarget(w.Target.Name).WithCause(err)
	}
	return nil
}

// DeleteStampFile removes w's stamp file after a failed Run (spec.md §4.6
// step 4: "If run fails, delete the stamp file (so the next build will
// rebuild)"). For a file target this deletes the (possibly partial) output;
// for a directory target it deletes the implicit-inputs file, which is the
// same path.
func DeleteStampFile(w *TargetWrapper) error {
	if w.StampFile == "" {
		return nil
	}
	if err := os.Remove(w.StampFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readImplicitInputsLines(path string) (lines []string, present bool, err error) {
	if path == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return []string{}, true, nil
	}
	return strings.Split(content, "\n"), true, nil
}

func writeImplicitInputsLines(path string, lines []string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(dirOf(path), 0775); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0664)
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
