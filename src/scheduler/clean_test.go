package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpybuild/xbuild-go/src/core"
)

func TestRunCleanRemovesOutputWorkDirAndImplicitInputs(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("built"), 0664))

	ic := core.NewInitializationContext()
	ic.OverridePropertyFromCLI("BUILD_WORK_DIR", filepath.Join(dir, "work"))
	target := core.NewTarget("//pkg:t", outPath, nil)
	require.NoError(t, ic.RegisterTarget(target))
	bc := ic.Freeze()

	graph, err := core.Resolve(bc)
	require.NoError(t, err)
	w := graph.WrapperFor("//pkg:t")
	require.NoError(t, os.MkdirAll(w.WorkDir, 0775))
	require.NoError(t, os.MkdirAll(filepath.Dir(w.ImplicitInputsFile), 0775))
	require.NoError(t, os.WriteFile(w.ImplicitInputsFile, nil, 0664))

	CleanConfirm = false
	result, err := Run(graph, Options{Clean: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Built)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(w.WorkDir)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(w.ImplicitInputsFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunCleanDryRunLeavesFilesInPlace(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("built"), 0664))

	ic := core.NewInitializationContext()
	ic.OverridePropertyFromCLI("BUILD_WORK_DIR", filepath.Join(dir, "work"))
	target := core.NewTarget("//pkg:t", outPath, nil)
	require.NoError(t, ic.RegisterTarget(target))
	bc := ic.Freeze()

	graph, err := core.Resolve(bc)
	require.NoError(t, err)

	CleanConfirm = false
	result, err := Run(graph, Options{Clean: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Built)

	_, statErr := os.Stat(outPath)
	assert.NoError(t, statErr)
}
