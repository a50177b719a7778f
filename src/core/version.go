package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the engine's own build-schema version: the shape of
// PathSet/Target/Context operations that a build script is written against.
// Bumped only when a change would alter how an existing script resolves,
// mirroring xpybuild's xpybuild-version.properties gate on scripts declaring
// a minimum required version.
var SchemaVersion = semver.MustParse("1.0.0")

// ParseRequiredVersion parses a build script's declared minimum schema
// version requirement (eg. from a "requires_version" directive), returning
// an error for a malformed constraint string.
func ParseRequiredVersion(raw string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return v, nil
}

// CheckSchemaVersion returns an error if required is newer than
// SchemaVersion, meaning the running engine is too old for the build
// script it's about to load.
func CheckSchemaVersion(required *semver.Version) error {
	if required.GreaterThan(SchemaVersion) {
		return NewBuildError(KindBuildError, fmt.Sprintf("build script requires schema version %s but this engine implements %s", required, SchemaVersion))
	}
	return nil
}

// ReadVersionFile loads a "NAME=X.Y.Z" properties-style file (xpybuild's
// xpybuild-version.properties layout) and returns the parsed version for
// the given key, or an error if the key is absent or malformed.
func ReadVersionFile(path, key string) (*semver.Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == key {
			return semver.NewVersion(strings.TrimSpace(parts[1]))
		}
	}
	return nil, fmt.Errorf("key %q not found in %s", key, path)
}

// ReconcileVersionFile checks the work dir's persisted schema version
// against SchemaVersion (spec.md §6 "xpybuild-version.properties"), wiping
// BUILD_WORK_DIR/targets for a forced full rebuild if they differ in either
// direction — a downgrade is as much a schema mismatch as an upgrade, which
// is why this compares with semver equality rather than just rejecting
// newer-than-current like CheckSchemaVersion does for a script's own
// declared requirement. Renamed from "xpybuild-version.properties" to
// "xbuild-version.properties" for this engine's own namespace.
func ReconcileVersionFile(bc *BuildContext) error {
	base, err := bc.GetProperty("BUILD_WORK_DIR")
	if err != nil {
		return NewBuildError(KindInternal, "BUILD_WORK_DIR property is not defined").WithCause(err)
	}
	workDir := bc.GetFullPath(base, ".")
	versionFile := joinRel(workDir, "xbuild-version.properties")

	if existing, err := ReadVersionFile(versionFile, "schema_version"); err == nil {
		if !existing.Equal(SchemaVersion) {
			if err := os.RemoveAll(joinRel(workDir, "targets")); err != nil && !os.IsNotExist(err) {
				return NewBuildError(KindInternal, "clearing work dir for schema version change").WithCause(err)
			}
		}
	}

	if err := os.MkdirAll(workDir, 0775); err != nil {
		return NewBuildError(KindInternal, "creating BUILD_WORK_DIR").WithCause(err)
	}
	return os.WriteFile(versionFile, []byte(fmt.Sprintf("schema_version=%s\n", SchemaVersion)), 0664)
}
