package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyDefaultAndCLIOverride(t *testing.T) {
	ic := NewInitializationContext()
	ic.DefineProperty("OUTPUT_DIR", "/tmp/default", nil)
	ic.OverridePropertyFromCLI("OUTPUT_DIR", "/tmp/override")
	bc := ic.Freeze()

	val, err := bc.GetProperty("OUTPUT_DIR")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override", val)
}

func TestEnvironmentOverrideLosesToCLI(t *testing.T) {
	os.Setenv("XBUILD_TEST_OUTPUT_DIR", "/tmp/env")
	defer os.Unsetenv("XBUILD_TEST_OUTPUT_DIR")

	ic := NewInitializationContext()
	ic.DefineProperty("TEST_OUTPUT_DIR", "/tmp/default", nil)
	ic.EnableEnvironmentOverrides("XBUILD_")
	ic.OverridePropertyFromCLI("TEST_OUTPUT_DIR", "/tmp/cli")
	bc := ic.Freeze()

	val, err := bc.GetProperty("TEST_OUTPUT_DIR")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cli", val)
}

func TestBoolAndListProperties(t *testing.T) {
	ic := NewInitializationContext()
	ic.DefineBoolProperty("DEBUG", false)
	ic.DefineListProperty("EXTRA_FLAGS", []string{"-a", "-b"})
	bc := ic.Freeze()

	b, err := bc.GetBoolProperty("DEBUG")
	require.NoError(t, err)
	assert.False(t, b)

	list, err := bc.GetListProperty("EXTRA_FLAGS")
	require.NoError(t, err)
	assert.Equal(t, []string{"-a", "-b"}, list)
}

func TestExpandPropertiesScalar(t *testing.T) {
	ic := NewInitializationContext()
	ic.DefineProperty("NAME", "world", nil)
	bc := ic.Freeze()

	result, err := bc.ExpandProperties("hello ${NAME}!", false)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", result)
}

func TestExpandPropertiesEscaped(t *testing.T) {
	ic := NewInitializationContext()
	bc := ic.Freeze()

	result, err := bc.ExpandProperties("literal $${NAME} stays", false)
	require.NoError(t, err)
	assert.Equal(t, "literal ${NAME} stays", result)
}

func TestExpandPropertiesList(t *testing.T) {
	ic := NewInitializationContext()
	ic.DefineListProperty("LIBS", []string{"a", "b", "c"})
	bc := ic.Freeze()

	result, err := bc.ExpandProperties("-l${LIBS[]}", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"-la", "-lb", "-lc"}, result)
}

func TestExpandPropertiesUnknownIsError(t *testing.T) {
	ic := NewInitializationContext()
	bc := ic.Freeze()
	_, err := bc.ExpandProperties("${NOPE}", false)
	assert.Error(t, err)
}

func TestDeprecatedAliasResolves(t *testing.T) {
	ic := NewInitializationContext()
	ic.DefineProperty("NEW_NAME", "value", nil)
	ic.DefineDeprecatedAlias("OLD_NAME", "NEW_NAME")
	bc := ic.Freeze()

	val, err := bc.GetProperty("OLD_NAME")
	require.NoError(t, err)
	assert.Equal(t, "value", val)
}

func TestMergeOptionsPrecedence(t *testing.T) {
	ic := NewInitializationContext()
	ic.DefineOption("LEVEL", "0")
	ic.SetGlobalOption("LEVEL", "1")
	bc := ic.Freeze()

	target := NewTarget("//pkg:t", "/out/t", nil)
	target.WithOptionOverride("LEVEL", "2")

	merged, err := bc.MergeOptions(target)
	require.NoError(t, err)
	assert.Equal(t, "2", merged["LEVEL"])
}

func TestRegisterTargetRejectsDuplicateNames(t *testing.T) {
	ic := NewInitializationContext()
	a := NewTarget("//pkg:dup", "/out/a", nil)
	b := NewTarget("//pkg:dup", "/out/b", nil)
	require.NoError(t, ic.RegisterTarget(a))
	assert.Error(t, ic.RegisterTarget(b))
}

func TestRegisterTargetRejectsTrailingSlashMismatch(t *testing.T) {
	ic := NewInitializationContext()
	bad := &Target{Name: "//pkg:t/", Path: "/out/t", isDirTarget: false, initialTags: map[string]bool{}, optionOverrides: map[string]string{}}
	assert.Error(t, ic.RegisterTarget(bad))
}

func TestFreezePanicsOnLateMutation(t *testing.T) {
	ic := NewInitializationContext()
	ic.Freeze()
	assert.Panics(t, func() {
		ic.DefineProperty("TOO_LATE", "x", nil)
	})
}
