package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCycleNoCycle(t *testing.T) {
	deps := map[string][]string{
		"a": {"b", "c"},
		"b": {"c"},
		"c": {},
	}
	assert.Nil(t, DetectCycle(deps))
}

func TestDetectCycleSimple(t *testing.T) {
	deps := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	cycle := DetectCycle(deps)
	assert.NotNil(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
}

func TestDetectCycleSelfLoop(t *testing.T) {
	deps := map[string][]string{
		"a": {"a"},
	}
	cycle := DetectCycle(deps)
	assert.Equal(t, []string{"a", "a"}, cycle)
}
