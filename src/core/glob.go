package core

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
)

// globToken is one path-element of a precompiled ant-style pattern.
// "**" tokens match zero or more path elements; "*" matches any run of
// non-separator characters within a single element; any other token must
// match an element literally.
type globToken struct {
	text      string
	isDoubleStar bool
	isSingleStar bool // element is exactly "*"
}

// CompiledGlob is a precompiled ant-style pattern (spec.md §4.1).
type CompiledGlob struct {
	pattern     string
	tokens      []globToken
	dirOnly     bool // pattern ended with a trailing slash
}

// CompileGlob precompiles an ant-style glob pattern into path-element
// tokens. "?" and backslashes are rejected per spec.md §4.2 (they are not
// valid in these patterns; use "*" and forward slashes only).
func CompileGlob(pattern string) (*CompiledGlob, error) {
	if strings.ContainsAny(pattern, "?\\") {
		return nil, fmt.Errorf("glob pattern %q must not contain '?' or backslashes", pattern)
	}
	dirOnly := strings.HasSuffix(pattern, "/")
	trimmed := strings.TrimSuffix(pattern, "/")
	parts := strings.Split(trimmed, "/")
	tokens := make([]globToken, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		tokens = append(tokens, globToken{
			text:         part,
			isDoubleStar: part == "**",
			isSingleStar: part == "*",
		})
	}
	return &CompiledGlob{pattern: pattern, tokens: tokens, dirOnly: dirOnly}, nil
}

// String returns the original pattern text.
func (g *CompiledGlob) String() string {
	return g.pattern
}

// Match reports whether the given path (relative to the glob's root,
// forward-slash-separated, no leading slash) matches this pattern. isDir
// indicates whether the candidate itself is a directory; a pattern ending in
// "/" only ever matches directories, and one that doesn't only ever matches
// files.
func (g *CompiledGlob) Match(relPath string, isDir bool) bool {
	if isDir != g.dirOnly {
		return false
	}
	elems := splitPathElements(relPath)
	return matchTokens(g.tokens, elems)
}

func splitPathElements(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchTokens(tokens []globToken, elems []string) bool {
	if len(tokens) == 0 {
		return len(elems) == 0
	}
	first := tokens[0]
	if first.isDoubleStar {
		// ** matches zero or more elements: try consuming none, one, two, ...
		for i := 0; i <= len(elems); i++ {
			if matchTokens(tokens[1:], elems[i:]) {
				return true
			}
		}
		return false
	}
	if len(elems) == 0 {
		return false
	}
	if !matchElement(first, elems[0]) {
		return false
	}
	return matchTokens(tokens[1:], elems[1:])
}

func matchElement(tok globToken, elem string) bool {
	if tok.isSingleStar {
		return true
	}
	if !strings.Contains(tok.text, "*") {
		return tok.text == elem
	}
	ok, err := filepath.Match(tok.text, elem)
	return err == nil && ok
}

// MatchTracker records, for a GetMatches call, which of the supplied include
// patterns were actually satisfied by at least one candidate. Spec.md §4.2
// requires every include to match something; callers use this to raise that
// error without re-walking the tree.
type MatchTracker struct {
	satisfied map[string]bool
}

// NewMatchTracker builds a tracker for the given set of include patterns.
func NewMatchTracker(includes []*CompiledGlob) *MatchTracker {
	t := &MatchTracker{satisfied: make(map[string]bool, len(includes))}
	for _, inc := range includes {
		t.satisfied[inc.String()] = false
	}
	return t
}

// Unused returns the patterns that matched nothing.
func (t *MatchTracker) Unused() []string {
	var unused []string
	for pattern, used := range t.satisfied {
		if !used {
			unused = append(unused, pattern)
		}
	}
	sort.Strings(unused)
	return unused
}

// GetMatches walks rootDir once and tests every discovered path against
// every include/exclude pattern, recording which includes were satisfied in
// tracker. This is the "single prefix walk against many patterns"
// optimisation called for in spec.md §4.1. Returned paths are relative to
// rootDir, forward-slash-separated.
func GetMatches(rootDir string, includes, excludes []*CompiledGlob, tracker *MatchTracker) ([]string, error) {
	var matches []string
	err := godirwalk.Walk(rootDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == rootDir {
				return nil
			}
			rel, err := filepath.Rel(rootDir, osPathname)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				isDir = de.IsDir()
			}
			if matchesAny(excludes, rel, isDir) {
				if isDir {
					return filepath.SkipDir
				}
				return nil
			}
			for _, inc := range includes {
				if inc.Match(rel, isDir) {
					tracker.satisfied[inc.String()] = true
					matches = append(matches, rel)
					break
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func matchesAny(globs []*CompiledGlob, relPath string, isDir bool) bool {
	for _, g := range globs {
		if g.Match(relPath, isDir) {
			return true
		}
	}
	return false
}

// joinRel joins a root-relative directory and a basename into a
// forward-slash path, used by callers constructing destinations.
func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
