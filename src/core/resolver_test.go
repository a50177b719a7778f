package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBuildsEdgesAndOutstandingCounts(t *testing.T) {
	ic := NewInitializationContext()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("x"), 0664))

	lib := NewTarget("//pkg:lib", filepath.Join(dir, "lib.out"), noopRun)
	lib.Deps = NewLiteral("", filepath.Join(dir, "src.txt"))
	require.NoError(t, ic.RegisterTarget(lib))

	bin := NewTarget("//pkg:bin", filepath.Join(dir, "bin.out"), noopRun)
	bin.Deps = &TargetsWithTag{Tag: "all"}
	require.NoError(t, ic.RegisterTarget(bin))

	bc := ic.Freeze()
	graph, err := Resolve(bc)
	require.NoError(t, err)

	libWrapper := graph.WrapperFor("//pkg:lib")
	binWrapper := graph.WrapperFor("//pkg:bin")
	require.NotNil(t, libWrapper)
	require.NotNil(t, binWrapper)

	assert.Equal(t, 0, libWrapper.OutstandingDepCount())
	assert.Equal(t, 1, binWrapper.OutstandingDepCount())
	assert.Contains(t, libWrapper.RDeps, binWrapper)
}

func TestResolveDetectsDuplicateOutputs(t *testing.T) {
	ic := NewInitializationContext()
	a := NewTarget("//pkg:a", "/out/shared", noopRun)
	b := NewTarget("//pkg:b", "/out/shared", noopRun)
	require.NoError(t, ic.RegisterTarget(a))
	require.NoError(t, ic.RegisterTarget(b))

	bc := ic.Freeze()
	_, err := Resolve(bc)
	assert.Error(t, err)
}

func TestResolveDetectsCycle(t *testing.T) {
	ic := NewInitializationContext()
	a := NewTarget("//pkg:a", "/out/a", noopRun).WithTags("a")
	b := NewTarget("//pkg:b", "/out/b", noopRun).WithTags("b")
	a.Deps = &TargetsWithTag{Tag: "b"}
	b.Deps = &TargetsWithTag{Tag: "a"}
	require.NoError(t, ic.RegisterTarget(a))
	require.NoError(t, ic.RegisterTarget(b))

	bc := ic.Freeze()
	_, err := Resolve(bc)
	assert.Error(t, err)
}

func TestResolveRejectsDependencyInsideOutputDir(t *testing.T) {
	ic := NewInitializationContext()
	ic.RegisterOutputDir("/out/")
	a := NewTarget("//pkg:a", "/out/a", noopRun)
	a.Deps = NewLiteral("", "/out/somewhere-else.txt")
	require.NoError(t, ic.RegisterTarget(a))

	bc := ic.Freeze()
	_, err := Resolve(bc)
	assert.Error(t, err)
}

func TestPropagatePrioritiesWidensUpstream(t *testing.T) {
	ic := NewInitializationContext()
	low := NewTarget("//pkg:low", "/out/low", noopRun).WithPriority(0).WithTags("low")
	high := NewTarget("//pkg:high", "/out/high", noopRun).WithPriority(10)
	high.Deps = &TargetsWithTag{Tag: "low"}
	require.NoError(t, ic.RegisterTarget(low))
	require.NoError(t, ic.RegisterTarget(high))

	bc := ic.Freeze()
	graph, err := Resolve(bc)
	require.NoError(t, err)

	assert.Equal(t, 10, graph.WrapperFor("//pkg:low").EffectivePriority())
}

// TestAtomicGroupDependentGainsMates verifies spec.md's "dependent gains
// mates" rule: z depends on x, x is in an atomic group with y, so z must
// gain y as an additional target dep too (even though z never names y
// directly) — without x and y gaining dependency edges on each other, which
// would deadlock since both start with the same outstanding-dep count.
func TestAtomicGroupDependentGainsMates(t *testing.T) {
	ic := NewInitializationContext()
	x := NewTarget("//pkg:x", "/out/x", noopRun)
	y := NewTarget("//pkg:y", "/out/y", noopRun)
	z := NewTarget("//pkg:z", "/out/z", noopRun).WithTags("z")
	z.Deps = &TargetsWithTag{Tag: "x"}
	x.WithTags("x")
	require.NoError(t, ic.RegisterTarget(x))
	require.NoError(t, ic.RegisterTarget(y))
	require.NoError(t, ic.RegisterTarget(z))
	ic.DefineAtomicTargetGroup(x, y)

	bc := ic.Freeze()
	graph, err := Resolve(bc)
	require.NoError(t, err)

	wx := graph.WrapperFor("//pkg:x")
	wy := graph.WrapperFor("//pkg:y")
	wz := graph.WrapperFor("//pkg:z")

	assert.Contains(t, wz.TargetDeps, wx)
	assert.Contains(t, wz.TargetDeps, wy)
	assert.Equal(t, 2, wz.OutstandingDepCount())

	assert.NotContains(t, wx.TargetDeps, wy)
	assert.NotContains(t, wy.TargetDeps, wx)
	assert.Equal(t, 0, wx.OutstandingDepCount())
	assert.Equal(t, 0, wy.OutstandingDepCount())
}

func noopRun(ctx *BuildContext, options map[string]string, inputs []string) error {
	return nil
}
