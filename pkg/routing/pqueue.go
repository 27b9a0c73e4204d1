package routing

// PriorityQueue is a binary min-heap of items keyed by a float64 priority.
//
// Equal priorities are popped in insertion order. A* relies on this: when
// several paths tie on f, the one whose frontier node was queued first is
// expanded first, so the returned path is stable across runs.
//
// The queue never decreases a key in place. Callers push an item again with
// its better priority and discard stale entries on Pop.
type PriorityQueue[T comparable] struct {
	items  []pqEntry[T]
	counts map[T]int // queued entries per item, for Contains
	seq    uint64
}

type pqEntry[T comparable] struct {
	item     T
	priority float64
	seq      uint64
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue[T comparable]() *PriorityQueue[T] {
	return &PriorityQueue[T]{counts: make(map[T]int)}
}

func (q *PriorityQueue[T]) Len() int { return len(q.items) }

// Empty reports whether the queue has no entries.
func (q *PriorityQueue[T]) Empty() bool { return len(q.items) == 0 }

// Contains reports whether at least one entry for item is queued.
func (q *PriorityQueue[T]) Contains(item T) bool {
	return q.counts[item] > 0
}

// Push inserts item with the given priority.
func (q *PriorityQueue[T]) Push(item T, priority float64) {
	q.items = append(q.items, pqEntry[T]{item: item, priority: priority, seq: q.seq})
	q.seq++
	q.counts[item]++
	q.siftUp(len(q.items) - 1)
}

// Pop removes and returns the entry with the lowest priority.
// It panics on an empty queue.
func (q *PriorityQueue[T]) Pop() (T, float64) {
	n := len(q.items)
	top := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	if q.counts[top.item]--; q.counts[top.item] == 0 {
		delete(q.counts, top.item)
	}
	return top.item, top.priority
}

// Items returns the distinct queued items in heap order.
func (q *PriorityQueue[T]) Items() []T {
	out := make([]T, 0, len(q.counts))
	seen := make(map[T]bool, len(q.counts))
	for _, e := range q.items {
		if !seen[e.item] {
			seen[e.item] = true
			out = append(out, e.item)
		}
	}
	return out
}

func (q *PriorityQueue[T]) less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *PriorityQueue[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *PriorityQueue[T]) siftDown(i int) {
	n := len(q.items)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			break
		}
		q.items[i], q.items[smallest] = q.items[smallest], q.items[i]
		i = smallest
	}
}
