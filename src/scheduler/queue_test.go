package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xpybuild/xbuild-go/src/core"
)

func TestPriorityQueueDequeuesHighestFirst(t *testing.T) {
	q := newPriorityQueue(false, rand.New(rand.NewSource(1)))

	low := core.NewTargetWrapper(core.NewTarget("//pkg:low", "/out/low", nil).WithPriority(0))
	mid := core.NewTargetWrapper(core.NewTarget("//pkg:mid", "/out/mid", nil).WithPriority(5))
	high := core.NewTargetWrapper(core.NewTarget("//pkg:high", "/out/high", nil).WithPriority(10))

	q.Enqueue(low)
	q.Enqueue(high)
	q.Enqueue(mid)

	assert.Equal(t, high, q.Dequeue())
	assert.Equal(t, mid, q.Dequeue())
	assert.Equal(t, low, q.Dequeue())
	assert.Nil(t, q.Dequeue())
}

func TestPriorityQueueBreaksTiesByInsertionOrder(t *testing.T) {
	q := newPriorityQueue(false, rand.New(rand.NewSource(1)))

	first := core.NewTargetWrapper(core.NewTarget("//pkg:first", "/out/first", nil).WithPriority(1))
	second := core.NewTargetWrapper(core.NewTarget("//pkg:second", "/out/second", nil).WithPriority(1))

	q.Enqueue(first)
	q.Enqueue(second)

	assert.Equal(t, first, q.Dequeue())
	assert.Equal(t, second, q.Dequeue())
}
