package core

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// propertyValue holds a property's current value along with enough
// information to render it back out as a string (spec.md §4.3: booleans
// render as "true"/"false"; list-valued properties are comma-separated).
type propertyValue struct {
	raw      string
	isList   bool
	isBool   bool
	boolVal  bool
	listVals []string
}

func (p propertyValue) String() string {
	if p.isBool {
		if p.boolVal {
			return "true"
		}
		return "false"
	}
	if p.isList {
		return strings.Join(p.listVals, ",")
	}
	return p.raw
}

// optionDefault records a defined option's default value.
type optionDefault struct {
	value string
}

// InitializationContext is the mutable, single-threaded state container used
// while a build script is loaded (spec.md §4.3). Every method here is only
// valid before Freeze is called; calling them afterwards is a programming
// error and panics, since the build-script loader is expected to be
// single-threaded and to finish entirely before any target executes.
type InitializationContext struct {
	mu sync.Mutex

	frozen bool

	properties      map[string]*propertyValue
	propertyCoerce  map[string]func(string) (string, error)
	cliOverrides    map[string]string
	envPrefix       string
	deprecatedAlias map[string]string // old name -> new name, for properties and options alike

	options       map[string]optionDefault
	globalOptions map[string]string

	targets       map[string]*Target
	tagsByTarget  map[string]map[string]bool
	outputDirs    []string
	atomicGroups  []*AtomicGroup
	preBuildChecks []func(*BuildContext) error

	globalFindPathsExcludes []string
}

// NewInitializationContext constructs an empty context ready for a
// build-script loader to populate.
func NewInitializationContext() *InitializationContext {
	ic := &InitializationContext{
		properties:      map[string]*propertyValue{},
		propertyCoerce:  map[string]func(string) (string, error){},
		cliOverrides:    map[string]string{},
		deprecatedAlias: map[string]string{},
		options:         map[string]optionDefault{},
		globalOptions:   map[string]string{},
		targets:         map[string]*Target{},
		tagsByTarget:    map[string]map[string]bool{},
	}
	// BUILD_WORK_DIR is an engine built-in, not something a build-script
	// loader defines: every target's work dir, implicit-inputs file and the
	// schema-version gate file (spec.md §6 Persisted artifacts) live under
	// it. Named after please's plz-out convention, renamed to this engine's
	// own namespace.
	ic.DefineProperty("BUILD_WORK_DIR", "xbuild-out/work", nil)
	return ic
}

func (ic *InitializationContext) checkNotFrozen(op string) {
	if ic.frozen {
		panic(fmt.Sprintf("InitializationContext.%s called after the build context was frozen", op))
	}
}

// DefineProperty registers a property with a default value and an optional
// coercion function (eg. to validate booleans or numbers). A property
// already defined with the same name has its default overwritten.
func (ic *InitializationContext) DefineProperty(name, defaultValue string, coerce func(string) (string, error)) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("DefineProperty")
	ic.properties[name] = &propertyValue{raw: defaultValue}
	if coerce != nil {
		ic.propertyCoerce[name] = coerce
	}
}

// DefineBoolProperty registers a boolean-valued property.
func (ic *InitializationContext) DefineBoolProperty(name string, defaultValue bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("DefineBoolProperty")
	ic.properties[name] = &propertyValue{isBool: true, boolVal: defaultValue}
}

// DefineListProperty registers a NAME[] list-valued property from a slice of
// strings; its expansion form is a comma-separated string (spec.md §4.3).
func (ic *InitializationContext) DefineListProperty(name string, defaultValues []string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("DefineListProperty")
	ic.properties[name] = &propertyValue{isList: true, listVals: append([]string{}, defaultValues...)}
}

// OverridePropertyFromCLI records a command-line override for a property.
// CLI overrides take precedence over both the default and any environment
// override (spec.md §6).
func (ic *InitializationContext) OverridePropertyFromCLI(name, value string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("OverridePropertyFromCLI")
	ic.cliOverrides[name] = value
}

// EnableEnvironmentOverrides arranges for every environment variable named
// "<prefix><PROPERTY>" to set a default for the matching property, with
// explicit CLI overrides still taking precedence (spec.md §6).
func (ic *InitializationContext) EnableEnvironmentOverrides(prefix string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("EnableEnvironmentOverrides")
	ic.envPrefix = prefix
}

// DefineDeprecatedAlias registers oldName as a deprecated alias for newName,
// for either a property or an option. Resolving oldName logs a one-time
// deprecation warning and resolves newName instead (supplemented from
// xpybuild's ModuleBackwardsCompatibility test; see SPEC_FULL.md §12).
func (ic *InitializationContext) DefineDeprecatedAlias(oldName, newName string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("DefineDeprecatedAlias")
	ic.deprecatedAlias[oldName] = newName
}

// DefineOption registers an option with a process-wide default.
func (ic *InitializationContext) DefineOption(name, defaultValue string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("DefineOption")
	ic.options[name] = optionDefault{value: defaultValue}
}

// SetGlobalOption overrides an option's default for every target that
// doesn't specify its own override.
func (ic *InitializationContext) SetGlobalOption(name, value string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("SetGlobalOption")
	ic.globalOptions[name] = value
}

// SetGlobalFindPathsExcludes registers exclude patterns that are merged into
// every FindPaths PathSet's own excludes (grounded in xpybuild's
// FindPathsGlobalExcludes test; see SPEC_FULL.md §12).
func (ic *InitializationContext) SetGlobalFindPathsExcludes(patterns ...string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("SetGlobalFindPathsExcludes")
	ic.globalFindPathsExcludes = append(ic.globalFindPathsExcludes, patterns...)
}

// RegisterTarget adds a newly constructed target to the context. Returns an
// error if the name collides (case-insensitively) with an existing one.
func (ic *InitializationContext) RegisterTarget(t *Target) error {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("RegisterTarget")
	key := strings.ToLower(t.Name)
	if existing, present := ic.targets[key]; present {
		return NewBuildError(KindBuildError, fmt.Sprintf("duplicate target name %q (conflicts with %q)", t.Name, existing.Name)).
			WithLocation(t.Location)
	}
	if IsDirPath(t.Name) != t.isDirTarget || IsDirPath(t.Path) != t.isDirTarget {
		return NewBuildError(KindBuildError, fmt.Sprintf("target %q: trailing slash must match directory-ness", t.Name)).WithLocation(t.Location)
	}
	ic.targets[key] = t
	ic.tagsByTarget[key] = map[string]bool{"all": true}
	for tag := range t.initialTags {
		ic.tagsByTarget[key][tag] = true
	}
	return nil
}

// RegisterTags adds tags to a target's tag set.
func (ic *InitializationContext) RegisterTags(t *Target, tags ...string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("RegisterTags")
	key := strings.ToLower(t.Name)
	if ic.tagsByTarget[key] == nil {
		ic.tagsByTarget[key] = map[string]bool{}
	}
	for _, tag := range tags {
		ic.tagsByTarget[key][tag] = true
	}
}

// RemoveTags removes tags from a target's tag set.
func (ic *InitializationContext) RemoveTags(t *Target, tags ...string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("RemoveTags")
	key := strings.ToLower(t.Name)
	for _, tag := range tags {
		delete(ic.tagsByTarget[key], tag)
	}
}

// RegisterOutputDir declares abs as a top-level output directory: no target
// may write directly to it, and no non-target dependency may resolve inside
// it (spec.md §3, §4.4).
func (ic *InitializationContext) RegisterOutputDir(abs string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("RegisterOutputDir")
	ic.outputDirs = append(ic.outputDirs, NormalizeLongPath(EnsureTrailingSlash(abs)))
}

// DefineAtomicTargetGroup declares a set of targets as indivisible (spec.md
// §3 Atomic Target Group).
func (ic *InitializationContext) DefineAtomicTargetGroup(targets ...*Target) *AtomicGroup {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("DefineAtomicTargetGroup")
	g := &AtomicGroup{members: append([]*Target{}, targets...)}
	ic.atomicGroups = append(ic.atomicGroups, g)
	return g
}

// RegisterPreBuildCheck registers a function to be run once the BuildContext
// is frozen, before scheduling starts, and which may return an error to
// abort the build early.
func (ic *InitializationContext) RegisterPreBuildCheck(fn func(*BuildContext) error) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.checkNotFrozen("RegisterPreBuildCheck")
	ic.preBuildChecks = append(ic.preBuildChecks, fn)
}

// Freeze snapshots the initialization context into an immutable BuildContext.
// After this call, every Initialization-phase method above panics if called
// again, per spec.md §4.3.
func (ic *InitializationContext) Freeze() *BuildContext {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.frozen = true

	resolved := map[string]propertyValue{}
	for name, pv := range ic.properties {
		resolved[name] = ic.resolvePropertyLocked(name, *pv)
	}

	bc := &BuildContext{
		properties:      resolved,
		options:         ic.options,
		globalOptions:   ic.globalOptions,
		targets:         ic.targets,
		tagsByTarget:    ic.tagsByTarget,
		outputDirs:      ic.outputDirs,
		atomicGroups:    ic.atomicGroups,
		preBuildChecks:  ic.preBuildChecks,
		deprecatedAlias: ic.deprecatedAlias,
		globalFindPathsExcludes: ic.globalFindPathsExcludes,
		warnedAliases:   map[string]bool{},
	}
	return bc
}

// resolvePropertyLocked applies the env-override then CLI-override layering
// for a single property. Must be called with ic.mu held.
func (ic *InitializationContext) resolvePropertyLocked(name string, pv propertyValue) propertyValue {
	if ic.envPrefix != "" {
		if envVal, present := os.LookupEnv(ic.envPrefix + name); present {
			pv = applyRawOverride(pv, envVal)
		}
	}
	if cliVal, present := ic.cliOverrides[name]; present {
		pv = applyRawOverride(pv, cliVal)
	}
	if coerce, present := ic.propertyCoerce[name]; present && !pv.isBool && !pv.isList {
		if coerced, err := coerce(pv.raw); err == nil {
			pv.raw = coerced
		}
	}
	return pv
}

func applyRawOverride(pv propertyValue, val string) propertyValue {
	if pv.isBool {
		pv.boolVal = val == "true" || val == "1"
		return pv
	}
	if pv.isList {
		if val == "" {
			pv.listVals = nil
		} else {
			pv.listVals = strings.Split(val, ",")
		}
		return pv
	}
	pv.raw = val
	return pv
}

// BuildContext is the immutable snapshot used throughout dependency
// resolution and execution (spec.md §4.3). Every operation on it is pure
// over the frozen state.
type BuildContext struct {
	properties      map[string]propertyValue
	options         map[string]optionDefault
	globalOptions   map[string]string
	targets         map[string]*Target
	tagsByTarget    map[string]map[string]bool
	outputDirs      []string
	atomicGroups    []*AtomicGroup
	preBuildChecks  []func(*BuildContext) error
	deprecatedAlias map[string]string
	globalFindPathsExcludes []string

	warnedMu      sync.Mutex
	warnedAliases map[string]bool
}

// RunPreBuildChecks runs every registered pre-build check, returning the
// first error encountered (if any).
func (bc *BuildContext) RunPreBuildChecks() error {
	for _, check := range bc.preBuildChecks {
		if err := check(bc); err != nil {
			return err
		}
	}
	return nil
}

// OutputDirs returns the declared top-level output directories, normalized
// and trailing-slash-terminated.
func (bc *BuildContext) OutputDirs() []string {
	return bc.outputDirs
}

// IsInsideOutputDir reports whether p resolves inside (but is not equal to)
// any declared top-level output directory.
func (bc *BuildContext) IsInsideOutputDir(p string) bool {
	norm := NormalizeLongPath(p)
	for _, dir := range bc.outputDirs {
		if norm != dir && strings.HasPrefix(norm, dir) {
			return true
		}
	}
	return false
}

// resolveAlias follows the deprecated-alias chain for a property/option
// name, logging a one-time warning the first time each alias is used.
func (bc *BuildContext) resolveAlias(name string) string {
	newName, present := bc.deprecatedAlias[name]
	if !present {
		return name
	}
	bc.warnedMu.Lock()
	if !bc.warnedAliases[name] {
		bc.warnedAliases[name] = true
		bc.warnedMu.Unlock()
		log.Warning("%q is deprecated, use %q instead", name, newName)
	} else {
		bc.warnedMu.Unlock()
	}
	return bc.resolveAlias(newName)
}

// GetProperty returns a property's current string form ("true"/"false" for
// booleans) or an error if it's undefined.
func (bc *BuildContext) GetProperty(name string) (string, error) {
	name = bc.resolveAlias(name)
	pv, present := bc.properties[name]
	if !present {
		return "", NewBuildError(KindBuildError, fmt.Sprintf("unknown property %q", name))
	}
	return pv.String(), nil
}

// GetBoolProperty returns a boolean property's value.
func (bc *BuildContext) GetBoolProperty(name string) (bool, error) {
	name = bc.resolveAlias(name)
	pv, present := bc.properties[name]
	if !present {
		return false, NewBuildError(KindBuildError, fmt.Sprintf("unknown property %q", name))
	}
	return pv.boolVal, nil
}

// GetListProperty returns a list property's values.
func (bc *BuildContext) GetListProperty(name string) ([]string, error) {
	name = bc.resolveAlias(name)
	pv, present := bc.properties[name]
	if !present {
		return nil, NewBuildError(KindBuildError, fmt.Sprintf("unknown property %q", name))
	}
	return pv.listVals, nil
}

// placeholderRegexp matches ${NAME}, ${NAME[]} and $${literal} forms.
var placeholderRegexp = regexp.MustCompile(`\$\$?\{[^{}]*\}?`)

// ExpandProperties implements spec.md §4.3's property expansion rules:
//   - ${NAME} is replaced by the property's string form.
//   - $${...} escapes to the literal "${...}".
//   - ${NAME[]} (list-valued) splits into a list and cross-products with
//     surrounding text; exactly one such placeholder is permitted when
//     expandList is true.
//   - An unknown property, or a malformed "${" with no matching "}", is a
//     fatal BuildError.
//
// When expandList is false, this always returns a single string, and a
// ${NAME[]} placeholder is replaced by the list's comma-separated form. When
// true, and exactly one ${NAME[]} placeholder is present, the return value is
// a []string; with no list placeholder the return value is the same plain
// string that expandList=false would give.
func (bc *BuildContext) ExpandProperties(template string, expandList bool) (interface{}, error) {
	if err := checkBalancedPlaceholders(template); err != nil {
		return nil, err
	}
	listName, listValues, prefix, suffix, err := bc.findListPlaceholder(template, expandList)
	if err != nil {
		return nil, err
	}
	if listName == "" {
		expanded, err := bc.expandScalar(template)
		if err != nil {
			return nil, err
		}
		return expanded, nil
	}
	results := make([]string, 0, len(listValues))
	for _, v := range listValues {
		combined := prefix + v + suffix
		expanded, err := bc.expandScalar(combined)
		if err != nil {
			return nil, err
		}
		results = append(results, expanded)
	}
	return results, nil
}

func checkBalancedPlaceholders(s string) error {
	depth := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			depth++
			i++
		} else if s[i] == '}' && depth > 0 {
			depth--
		}
	}
	if depth != 0 {
		return NewBuildError(KindBuildError, fmt.Sprintf("malformed property placeholder in %q", s))
	}
	return nil
}

// findListPlaceholder scans for a single ${NAME[]} placeholder. Returns the
// list property name (empty if none found), its values, and the text before
// / after the placeholder.
func (bc *BuildContext) findListPlaceholder(template string, expandList bool) (name string, values []string, prefix string, suffix string, err error) {
	if !expandList {
		return "", nil, "", "", nil
	}
	idx := strings.Index(template, "[]}")
	if idx < 0 {
		return "", nil, "", "", nil
	}
	// Walk backwards from idx to find the opening "${".
	open := strings.LastIndex(template[:idx], "${")
	if open < 0 {
		return "", nil, "", "", nil
	}
	propName := template[open+2 : idx]
	count := strings.Count(template, "[]}")
	if count > 1 {
		return "", nil, "", "", NewBuildError(KindBuildError, "at most one list-valued ${NAME[]} placeholder is permitted per expansion")
	}
	propName = bc.resolveAlias(propName)
	vals, err2 := bc.GetListProperty(propName)
	if err2 != nil {
		return "", nil, "", "", err2
	}
	return propName, vals, template[:open], template[idx+3:], nil
}

// expandScalar performs ${NAME} and $${...} substitution, producing a plain
// string (no list cross-product).
func (bc *BuildContext) expandScalar(template string) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(template) {
		if strings.HasPrefix(template[i:], "$${") {
			end := strings.Index(template[i:], "}")
			if end < 0 {
				return "", NewBuildError(KindBuildError, fmt.Sprintf("malformed property placeholder in %q", template))
			}
			sb.WriteString("${")
			sb.WriteString(template[i+3 : i+end])
			sb.WriteString("}")
			i += end + 1
			continue
		}
		if strings.HasPrefix(template[i:], "${") {
			end := strings.Index(template[i:], "}")
			if end < 0 {
				return "", NewBuildError(KindBuildError, fmt.Sprintf("malformed property placeholder in %q", template))
			}
			name := template[i+2 : i+end]
			name = strings.TrimSuffix(name, "[]")
			value, err := bc.GetProperty(bc.resolveAlias(name))
			if err != nil {
				return "", err
			}
			sb.WriteString(value)
			i += end + 1
			continue
		}
		sb.WriteByte(template[i])
		i++
	}
	return sb.String(), nil
}

// GetFullPath resolves p to an absolute, normalized path, using defaultDir
// as the base directory if p is not already absolute.
func (bc *BuildContext) GetFullPath(p, defaultDir string) string {
	if filepathIsAbs(p) {
		return NormalizeLongPath(p)
	}
	return NormalizeLongPath(joinRel(defaultDir, p))
}

func filepathIsAbs(p string) bool {
	return strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':')
}

// MergeOptions forms the option mapping for a target by overlaying, in
// order, option defaults, global overrides, and the target's own overrides,
// property-expanding each value at access time (spec.md §4.3). Broken out
// as its own function (rather than inlined at each call site) per the
// OptionOverriding precedence test grounding noted in SPEC_FULL.md §12.
func (bc *BuildContext) MergeOptions(t *Target) (map[string]string, error) {
	merged := map[string]string{}
	for name, def := range bc.options {
		merged[name] = def.value
	}
	for name, val := range bc.globalOptions {
		merged[bc.resolveAlias(name)] = val
	}
	for name, val := range t.optionOverrides {
		merged[bc.resolveAlias(name)] = val
	}
	expanded := map[string]string{}
	for name, val := range merged {
		e, err := bc.expandScalar(val)
		if err != nil {
			return nil, fmt.Errorf("expanding option %q for %s: %w", name, t.Name, err)
		}
		expanded[name] = e
	}
	return expanded, nil
}

// TargetByName looks up a registered target by its (already-resolved) name,
// returning nil if there is none. Lookups are case-insensitive, matching the
// uniqueness invariant in spec.md §3.
func (bc *BuildContext) TargetByName(name string) *Target {
	return bc.targets[strings.ToLower(name)]
}

// AllTargets returns every registered target, in deterministic (name-sorted)
// order.
func (bc *BuildContext) AllTargets() []*Target {
	names := make([]string, 0, len(bc.targets))
	for k := range bc.targets {
		names = append(names, k)
	}
	sort.Strings(names)
	ret := make([]*Target, 0, len(names))
	for _, k := range names {
		ret = append(ret, bc.targets[k])
	}
	return ret
}

// TargetsWithTag returns every registered target carrying the given tag,
// optionally restricted to non-directory targets.
func (bc *BuildContext) TargetsWithTag(tag string, allowDirectories bool) []*Target {
	var ret []*Target
	for _, t := range bc.AllTargets() {
		key := strings.ToLower(t.Name)
		if !bc.tagsByTarget[key][tag] {
			continue
		}
		if t.isDirTarget && !allowDirectories {
			continue
		}
		ret = append(ret, t)
	}
	return ret
}

// ParseNonNegativeInt is a small coercion helper for DefineProperty callers
// that want an integer-valued property (eg. worker counts, priorities).
func ParseNonNegativeInt(raw string) (string, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return "", fmt.Errorf("expected a non-negative integer, got %q", raw)
	}
	return raw, nil
}
