package scheduler

import (
	"container/heap"
	"math/rand"

	"github.com/xpybuild/xbuild-go/src/core"
)

// queueItem pairs a ready wrapper with the priority it had at the moment it
// was enqueued; effective priority can still rise after that point (another
// target discovering it needs this one), but re-ranking an item already in
// the heap isn't worth the complexity queue depths seen in practice.
type queueItem struct {
	wrapper  *core.TargetWrapper
	priority int
	seq      int // insertion order, used as a tiebreaker for determinism
}

// priorityQueue is a max-heap over queueItem.priority, breaking ties by
// insertion order so that, absent RandomizePriorities, runs are
// reproducible. Grounded on please's scheduling approach in src/plz/plz.go,
// which likewise dispatches ready targets by a priority field rather than
// FIFO order.
type priorityQueue struct {
	items    []*queueItem
	nextSeq  int
	randomize bool
	rng      *rand.Rand
}

func newPriorityQueue(randomize bool, rng *rand.Rand) *priorityQueue {
	return &priorityQueue{randomize: randomize, rng: rng}
}

func (q *priorityQueue) Len() int { return len(q.items) }

func (q *priorityQueue) Less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority > q.items[j].priority
	}
	if q.randomize {
		return q.rng.Intn(2) == 0
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *priorityQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *priorityQueue) Push(x interface{}) {
	q.items = append(q.items, x.(*queueItem))
}

func (q *priorityQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

// Enqueue adds a newly-ready wrapper to the queue.
func (q *priorityQueue) Enqueue(w *core.TargetWrapper) {
	item := &queueItem{wrapper: w, priority: w.EffectivePriority(), seq: q.nextSeq}
	q.nextSeq++
	heap.Push(q, item)
}

// Dequeue removes and returns the highest-priority ready wrapper, or nil if
// the queue is empty.
func (q *priorityQueue) Dequeue() *core.TargetWrapper {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*queueItem).wrapper
}
