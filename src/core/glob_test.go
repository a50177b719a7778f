package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileGlobRejectsQuestionMarkAndBackslash(t *testing.T) {
	_, err := CompileGlob("foo?bar")
	assert.Error(t, err)
	_, err = CompileGlob(`foo\bar`)
	assert.Error(t, err)
}

func TestCompileGlobDirOnly(t *testing.T) {
	g, err := CompileGlob("src/**/")
	require.NoError(t, err)
	assert.True(t, g.dirOnly)
	assert.False(t, g.Match("src/foo", false))
	assert.True(t, g.Match("src/foo", true))
}

func TestMatchDoubleStar(t *testing.T) {
	g, err := CompileGlob("src/**/*.go")
	require.NoError(t, err)
	assert.True(t, g.Match("src/core/glob.go", false))
	assert.True(t, g.Match("src/a/b/c/glob.go", false))
	assert.False(t, g.Match("src/core/glob.py", false))
	assert.False(t, g.Match("other/core/glob.go", false))
}

func TestMatchSingleStar(t *testing.T) {
	g, err := CompileGlob("*.txt")
	require.NoError(t, err)
	assert.True(t, g.Match("readme.txt", false))
	assert.False(t, g.Match("sub/readme.txt", false))
}

func TestGetMatchesWalksAndExcludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0775))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "keep.go"), []byte("x"), 0664))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "keep.go"), []byte("x"), 0664))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "skip.go"), []byte("x"), 0664))

	includes := []*CompiledGlob{mustGlob(t, "**/*.go")}
	excludes := []*CompiledGlob{mustGlob(t, "**/skip.go")}
	tracker := NewMatchTracker(includes)

	matches, err := GetMatches(dir, includes, excludes, tracker)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/keep.go", "a/b/keep.go"}, matches)
	assert.Empty(t, tracker.Unused())
}

func TestMatchTrackerReportsUnusedIncludes(t *testing.T) {
	dir := t.TempDir()
	includes := []*CompiledGlob{mustGlob(t, "*.nonexistent")}
	tracker := NewMatchTracker(includes)
	matches, err := GetMatches(dir, includes, nil, tracker)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, []string{"*.nonexistent"}, tracker.Unused())
}

func mustGlob(t *testing.T, pattern string) *CompiledGlob {
	t.Helper()
	g, err := CompileGlob(pattern)
	require.NoError(t, err)
	return g
}
