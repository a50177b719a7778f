package core

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Target is a single buildable unit (spec.md §3). The engine itself never
// constructs these directly from a build script — that's the build-script
// parser's job, an external collaborator per spec.md §1 — but it does own
// the type, its invariants, and every operation that runs against it.
type Target struct {
	Name     string
	Path     string // declared output path; directory-ness must agree with Name
	Location SourceLocation
	Priority int

	isDirTarget bool
	initialTags map[string]bool

	optionOverrides map[string]string

	// Deps is the PathSet describing everything this target depends on:
	// other targets, literal files/dirs, and FindPaths-style globs.
	Deps PathSet

	// HashableImplicitInputs supplements the dependency set with values that
	// should participate in the implicit-inputs vector but are not filesystem
	// paths at all (eg. a compiler version string, an embedded config
	// blob). Grounded in please's RuleHash, which folds in arbitrary
	// "secrets"-style strings alongside file content hashes; see
	// SPEC_FULL.md §12.
	HashableImplicitInputs []string

	// Run is the actual build action. It receives the fully resolved,
	// property-expanded option map and the list of resolved input paths,
	// and must produce Path (or every file under Path, if Name is a
	// directory target).
	Run func(ctx *BuildContext, options map[string]string, resolvedInputs []string) error

	// workDir is assigned lazily on first use by EnsureWorkDir.
	workDir     string
	workDirOnce bool
}

// NewTarget constructs a Target. name and path's trailing-slash-ness must
// agree (spec.md §3 invariant); callers should follow with RegisterTarget to
// validate and install it.
func NewTarget(name, path string, run func(*BuildContext, map[string]string, []string) error) *Target {
	return &Target{
		Name:            name,
		Path:            path,
		isDirTarget:     IsDirPath(name),
		initialTags:     map[string]bool{},
		optionOverrides: map[string]string{},
		Run:             run,
	}
}

// WithPriority sets the target's own declared priority (spec.md §4.4
// priority propagation starts from these).
func (t *Target) WithPriority(p int) *Target {
	t.Priority = p
	return t
}

// WithOptionOverride sets a per-target option override, taking precedence
// over any global default (spec.md §4.3).
func (t *Target) WithOptionOverride(name, value string) *Target {
	t.optionOverrides[name] = value
	return t
}

// WithTags seeds the target's initial tag set at construction time (in
// addition to the implicit "all" tag every target carries).
func (t *Target) WithTags(tags ...string) *Target {
	for _, tag := range tags {
		t.initialTags[tag] = true
	}
	return t
}

// WithHashableImplicitInputs appends non-path values to participate in this
// target's implicit-inputs vector (see SPEC_FULL.md §12).
func (t *Target) WithHashableImplicitInputs(values ...string) *Target {
	t.HashableImplicitInputs = append(t.HashableImplicitInputs, values...)
	return t
}

// FingerprintContent condenses a large auxiliary value (eg. a classpath
// summary or an embedded config blob) down to a short digest string before
// it's passed to WithHashableImplicitInputs, so the implicit-inputs file
// stays a compact, diffable line rather than embedding the raw content
// verbatim. Not a cryptographic guarantee — a fast, collision-resistant
// content fingerprint is all the up-to-date vector needs (SPEC_FULL.md §10
// Fingerprinting).
func FingerprintContent(content string) string {
	h := blake3.New()
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// IsDirTarget reports whether this target's Name (and hence Path) denotes a
// directory rather than a single file.
func (t *Target) IsDirTarget() bool {
	return t.isDirTarget
}

// EnsureWorkDir lazily assigns this target's private scratch work directory
// path under baseWorkDir, appending a short UUID-derived suffix if a prior
// directory of the same derived name is already occupied by another target
// (see SPEC_FULL.md §11 item 3). It only chooses the path; the directory
// itself is not created here.
// occupied should report whether a candidate directory name is already
// claimed by a different target; it lets the resolver enforce uniqueness
// without this package needing a global registry.
func (t *Target) EnsureWorkDir(baseWorkDir string, occupied func(string) bool) string {
	if t.workDirOnce {
		return t.workDir
	}
	t.workDirOnce = true
	candidate := joinRel(baseWorkDir, sanitizeForPath(t.Name))
	for occupied != nil && occupied(candidate) {
		candidate = joinRel(baseWorkDir, sanitizeForPath(t.Name)+"-"+uuid.NewString()[:8])
	}
	t.workDir = candidate
	return t.workDir
}

// sanitizeForPath turns a target name into something safe to use as a single
// path component: slashes and colons (common in build-label-style names)
// become underscores.
func sanitizeForPath(name string) string {
	r := strings.NewReplacer("/", "_", ":", "_", " ", "_")
	return strings.Trim(r.Replace(name), "_")
}

// AtomicGroup is a set of targets that are scheduled and cleaned together
// (spec.md §3 Atomic Target Group): a target depending on any member also
// waits for every member, cleaning one member cleans all, and a member is
// skipped once a sibling has failed. Members are not rebuilt together: each
// member's own up-to-date check decides whether it is rebuilt.
type AtomicGroup struct {
	members []*Target
}

// Members returns the targets in this atomic group.
func (g *AtomicGroup) Members() []*Target {
	return g.members
}

// Contains reports whether t belongs to this group.
func (g *AtomicGroup) Contains(t *Target) bool {
	for _, m := range g.members {
		if m == t {
			return true
		}
	}
	return false
}
