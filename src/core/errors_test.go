package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildErrorChaining(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewBuildError(KindTargetExecution, "failed to run").
		WithTarget("//pkg:t").
		WithLocation(SourceLocation{File: "BUILD.xbuild", Line: 12}).
		WithCause(cause)

	assert.Contains(t, err.Error(), "//pkg:t")
	assert.Contains(t, err.Error(), "failed to run")
	assert.Contains(t, err.Error(), "BUILD.xbuild:12")
	assert.Contains(t, err.Error(), "permission denied")
	assert.True(t, errors.Is(err, cause))
}

func TestErrorListAccumulates(t *testing.T) {
	var list ErrorList
	assert.True(t, list.Empty())
	list.Add(errors.New("first"))
	list.Add(errors.New("second"))
	assert.False(t, list.Empty())
	assert.Equal(t, 2, list.Len())
	assert.Error(t, list.ErrorOrNil())
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "BuildError", KindBuildError.String())
	assert.Equal(t, "VerificationError", KindVerification.String())
}
