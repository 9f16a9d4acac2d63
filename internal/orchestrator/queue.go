package orchestrator

import (
	"container/heap"

	"github.com/google/uuid"
)

// queue orders task ids by priority (lower schedules sooner), breaking ties
// by enqueue sequence so equal-priority tasks dispatch in creation order.
// Not safe for concurrent use; the coordinator serializes access.
type queue struct {
	items taskHeap
	seq   uint64
}

type queued struct {
	id       uuid.UUID
	priority int
	seq      uint64
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(&q.items)
	return q
}

func (q *queue) push(id uuid.UUID, priority int) {
	q.seq++
	heap.Push(&q.items, queued{id: id, priority: priority, seq: q.seq})
}

func (q *queue) pop() (uuid.UUID, bool) {
	if q.items.Len() == 0 {
		return uuid.Nil, false
	}
	item := heap.Pop(&q.items).(queued)
	return item.id, true
}

func (q *queue) len() int {
	return q.items.Len()
}

type taskHeap []queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
