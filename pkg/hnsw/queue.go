package hnsw

// queueItem is a node id paired with its cosine distance to the query.
type queueItem struct {
	Node     uint32
	Distance float32
}

// less orders items by distance, then by id so that equal scores resolve
// towards the lower id.
func (a queueItem) less(b queueItem) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Node < b.Node
}

// priorityQueue is a value-based binary heap of queueItems.
// A max-heap keeps the worst item on top; a min-heap keeps the best.
type priorityQueue struct {
	isMaxHeap bool
	items     []queueItem
}

func newPriorityQueue(isMaxHeap bool, capacity int) *priorityQueue {
	return &priorityQueue{
		isMaxHeap: isMaxHeap,
		items:     make([]queueItem, 0, capacity),
	}
}

func (pq *priorityQueue) Len() int {
	return len(pq.items)
}

// Top returns the root of the heap without removing it.
func (pq *priorityQueue) Top() (queueItem, bool) {
	if len(pq.items) == 0 {
		return queueItem{}, false
	}
	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *priorityQueue) Push(item queueItem) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PushBounded inserts into a max-heap capped at capacity, replacing the worst
// item when the new one is closer.
func (pq *priorityQueue) PushBounded(item queueItem, capacity int) bool {
	if len(pq.items) < capacity {
		pq.Push(item)
		return true
	}

	top := pq.items[0]
	if !item.less(top) {
		return false
	}

	pq.items[0] = item
	pq.siftDown(0)
	return true
}

// Pop removes and returns the root of the heap.
func (pq *priorityQueue) Pop() (queueItem, bool) {
	n := len(pq.items)
	if n == 0 {
		return queueItem{}, false
	}

	item := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]

	if len(pq.items) > 0 {
		pq.siftDown(0)
	}

	return item, true
}

// Sorted drains the heap and returns its items closest first.
func (pq *priorityQueue) Sorted() []queueItem {
	out := make([]queueItem, len(pq.items))
	if pq.isMaxHeap {
		for i := len(out) - 1; i >= 0; i-- {
			out[i], _ = pq.Pop()
		}
	} else {
		for i := range out {
			out[i], _ = pq.Pop()
		}
	}
	return out
}

func (pq *priorityQueue) before(i, j int) bool {
	if pq.isMaxHeap {
		return pq.items[j].less(pq.items[i])
	}
	return pq.items[i].less(pq.items[j])
}

func (pq *priorityQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.before(i, parent) {
			break
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *priorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}

		best := left
		if right := left + 1; right < n && pq.before(right, left) {
			best = right
		}
		if !pq.before(best, i) {
			return
		}

		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
