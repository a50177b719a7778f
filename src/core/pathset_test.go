package core

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteralResolvesBasenameDestination(t *testing.T) {
	ic := NewInitializationContext()
	bc := ic.Freeze()

	lit := NewLiteral("/base", "sub/file.txt")
	resolved, err := lit.ResolveWithDestinations(bc)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "file.txt", resolved[0].RelDest)
	assert.Equal(t, "/base/sub/file.txt", resolved[0].AbsSource)
}

func TestFindPathsMatchesAndReportsUnusedInclude(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0664))

	ic := NewInitializationContext()
	bc := ic.Freeze()

	fp := &FindPaths{BaseDir: "", Dir: dir, Includes: []string{"*.go"}}
	resolved, err := fp.ResolveWithDestinations(bc)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "a.go", resolved[0].RelDest)

	fp2 := &FindPaths{BaseDir: "", Dir: dir, Includes: []string{"*.nonexistent"}}
	_, err = fp2.ResolveWithDestinations(bc)
	assert.Error(t, err)
}

func TestFindPathsCachesResolveAfterFirstCall(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0664))

	ic := NewInitializationContext()
	bc := ic.Freeze()

	fp := &FindPaths{Dir: dir, Includes: []string{"*.go"}}
	resolved, err := fp.ResolveWithDestinations(bc)
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	// A file added after the first resolve must not appear: the cached
	// match list from the first call is reused, not recomputed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("x"), 0664))
	resolved2, err := fp.ResolveWithDestinations(bc)
	require.NoError(t, err)
	assert.Len(t, resolved2, 1)
}

func TestFindPathsResolveIsConcurrencySafe(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0664))

	ic := NewInitializationContext()
	bc := ic.Freeze()
	fp := &FindPaths{Dir: dir, Includes: []string{"*.go"}}

	var wg sync.WaitGroup
	results := make([][]ResolvedPath, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolved, err := fp.ResolveWithDestinations(bc)
			require.NoError(t, err)
			results[i] = resolved
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Len(t, r, 1)
	}
}

func TestFindPathsMergesGlobalExcludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0664))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pyc"), []byte("x"), 0664))

	ic := NewInitializationContext()
	ic.SetGlobalFindPathsExcludes("*.pyc")
	bc := ic.Freeze()

	fp := &FindPaths{Dir: dir, Includes: []string{"*"}}
	resolved, err := fp.ResolveWithDestinations(bc)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "a.go", resolved[0].RelDest)
}

func TestAddDestPrefixAndFlattenDest(t *testing.T) {
	inner := NewLiteral("/base", "x/y.txt")
	wrapped := &AddDestPrefix{Inner: inner, Prefix: "lib"}

	ic := NewInitializationContext()
	bc := ic.Freeze()

	resolved, err := wrapped.ResolveWithDestinations(bc)
	require.NoError(t, err)
	assert.Equal(t, "lib/y.txt", resolved[0].RelDest)

	flat := &FlattenDest{Inner: wrapped}
	resolved, err = flat.ResolveWithDestinations(bc)
	require.NoError(t, err)
	assert.Equal(t, "y.txt", resolved[0].RelDest)
}

func TestSingletonDestRenameRequiresExactlyOne(t *testing.T) {
	ic := NewInitializationContext()
	bc := ic.Freeze()

	two := NewLiteral("/base", "a.txt", "b.txt")
	rename := &SingletonDestRename{Inner: two, To: "renamed.txt"}
	_, err := rename.ResolveWithDestinations(bc)
	assert.Error(t, err)

	one := NewLiteral("/base", "a.txt")
	rename = &SingletonDestRename{Inner: one, To: "renamed.txt"}
	resolved, err := rename.ResolveWithDestinations(bc)
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", resolved[0].RelDest)
}

func TestTargetsWithTagSkipsExistenceCheck(t *testing.T) {
	ic := NewInitializationContext()
	target := NewTarget("//pkg:lib", "/out/lib.a", nil).WithTags("compiled")
	require.NoError(t, ic.RegisterTarget(target))
	bc := ic.Freeze()

	pset := &TargetsWithTag{Tag: "compiled"}
	deps, err := pset.ResolveUnderlyingDependencies(bc)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.True(t, deps[0].SkipExistenceCheck)
	assert.Equal(t, "//pkg:lib", deps[0].TargetName)
}
