package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWrapperWithInput(t *testing.T, dir string) (*TargetWrapper, *BuildContext) {
	t.Helper()
	srcPath := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello"), 0664))
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("built"), 0664))

	ic := NewInitializationContext()
	ic.OverridePropertyFromCLI("BUILD_WORK_DIR", filepath.Join(dir, "work"))
	target := NewTarget("//pkg:t", outPath, noopRun)
	target.Deps = NewLiteral("", srcPath)
	require.NoError(t, ic.RegisterTarget(target))
	bc := ic.Freeze()

	graph, err := Resolve(bc)
	require.NoError(t, err)
	w := graph.WrapperFor("//pkg:t")
	return w, bc
}

func TestUpToDateFalseBeforeAnyBuildOutcomeRecorded(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)

	result, err := UpToDate(w, false)
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Contains(t, result.Reason, "implicit-inputs")
}

func TestUpToDateTrueAfterRecordingOutcome(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)

	require.NoError(t, RecordBuildOutcome(w))

	result, err := UpToDate(w, false)
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
}

func TestUpToDateFalseAfterInputChanges(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)

	require.NoError(t, RecordBuildOutcome(w))

	// Mutate the input's content after the implicit-inputs file was recorded.
	// The vector only tracks paths, not content, so to observe a rebuild we
	// instead make the dependency newer than the stamp.
	srcPath := w.ResolvedInputs[0].AbsSource
	newer := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(srcPath, newer, newer))

	result, err := UpToDate(w, false)
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Contains(t, result.Reason, "newer than the last build")
}

func TestUpToDateFalseWhenOutputMissing(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)

	require.NoError(t, RecordBuildOutcome(w))
	require.NoError(t, os.Remove(NormalizeLongPath(w.Target.Path)))

	result, err := UpToDate(w, false)
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Contains(t, result.Reason, "does not exist")
}

func TestUpToDateIgnoreDepsShortCircuitsAfterOutputCheck(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)

	// No RecordBuildOutcome call at all: without ignoreDeps this would fail
	// on the implicit-inputs check, but ignoreDeps returns up to date right
	// after confirming the output exists (spec.md §4.5 step 3).
	result, err := UpToDate(w, true)
	require.NoError(t, err)
	assert.True(t, result.UpToDate)

	require.NoError(t, os.Remove(NormalizeLongPath(w.Target.Path)))
	result2, err := UpToDate(w, true)
	require.NoError(t, err)
	assert.False(t, result2.UpToDate)
}

func TestUpToDateMarkedDirtyShortCircuits(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)
	require.NoError(t, RecordBuildOutcome(w))

	w.SetDirty(true)

	result, err := UpToDate(w, false)
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Contains(t, result.Reason, "dirty")
}

func TestImplicitInputsVectorWrittenOneEntryPerLine(t *testing.T) {
	dir := t.TempDir()
	w, _ := buildWrapperWithInput(t, dir)
	require.NoError(t, RecordBuildOutcome(w))

	data, err := os.ReadFile(w.ImplicitInputsFile)
	require.NoError(t, err)
	lines, _, err := readImplicitInputsLines(w.ImplicitInputsFile)
	require.NoError(t, err)
	assert.Equal(t, w.ImplicitInputsVector(), lines)
	assert.NotEmpty(t, data)
}
