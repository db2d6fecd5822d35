package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"github.com/kubev2v/task-engine/internal/util"
)

type queueItem struct {
	task     *Task
	priority int
	sequence uint64
	index    int
}

// taskHeap orders by priority, highest first, then by arrival. Tasks are
// queued at the executor's priority, so only an explicit change on a queued
// task moves it away from submission order.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].sequence < h[j].sequence
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// taskQueue is the pending queue of one executor. Producers block once the
// queue reaches the high watermark and stay blocked until it drains below
// the low watermark.
type taskQueue struct {
	mu        sync.Mutex
	items     taskHeap
	byTask    map[*Task]*queueItem
	sequence  uint64
	high      int
	low       int
	throttled bool
	closed    bool

	arrived *util.Signal
	drained *util.Signal
}

func newTaskQueue(high, low int) *taskQueue {
	return &taskQueue{
		byTask:  make(map[*Task]*queueItem),
		high:    high,
		low:     low,
		arrived: util.NewSignal(),
		drained: util.NewSignal(),
	}
}

// push adds t to the queue, waiting for room when the queue is throttled.
func (q *taskQueue) push(ctx context.Context, t *Task, priority int) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return errQueueClosed
		}
		if q.throttled && len(q.items) < q.low {
			q.throttled = false
		}
		if len(q.items) >= q.high {
			q.throttled = true
		}
		if !q.throttled {
			q.insertLocked(t, priority)
			q.mu.Unlock()
			q.arrived.Broadcast()
			return nil
		}
		wait := q.drained.C()
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pushNow adds t regardless of the watermarks.
func (q *taskQueue) pushNow(t *Task, priority int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	q.insertLocked(t, priority)
	q.mu.Unlock()
	q.arrived.Broadcast()
	return nil
}

// pushBehind queues t after every task already queued, at the lowest priority
// present or at fallback when the queue is empty.
func (q *taskQueue) pushBehind(t *Task, fallback int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	priority := fallback
	for _, item := range q.items {
		priority = min(priority, item.priority)
	}
	q.insertLocked(t, priority)
	q.mu.Unlock()
	q.arrived.Broadcast()
	return nil
}

func (q *taskQueue) insertLocked(t *Task, priority int) {
	q.sequence++
	item := &queueItem{task: t, priority: priority, sequence: q.sequence}
	heap.Push(&q.items, item)
	q.byTask[t] = item
}

func (q *taskQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.byTask, item.task)
	q.afterRemoveLocked()
	return item.task
}

// remove takes t out of the queue. Only the first call for a queued task
// returns true.
func (q *taskQueue) remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byTask[t]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byTask, t)
	q.afterRemoveLocked()
	return true
}

func (q *taskQueue) afterRemoveLocked() {
	if q.throttled && len(q.items) < q.low {
		q.throttled = false
		q.drained.Broadcast()
	}
}

// reprioritize changes the priority of a queued task.
func (q *taskQueue) reprioritize(t *Task, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byTask[t]
	if !ok {
		return false
	}
	item.priority = priority
	heap.Fix(&q.items, item.index)
	return true
}

// reprioritizeAll moves every queued task to priority and returns them,
// suspend markers excepted.
func (q *taskQueue) reprioritizeAll(priority int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]*Task, 0, len(q.items))
	for _, item := range q.items {
		item.priority = priority
		if !item.task.sentinel {
			tasks = append(tasks, item.task)
		}
	}
	heap.Init(&q.items)
	return tasks
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes and returns whatever was still queued, in
// dispatch order.
func (q *taskQueue) close() []*Task {
	q.mu.Lock()
	q.closed = true
	remaining := make([]*Task, 0, len(q.items))
	for len(q.items) > 0 {
		item := heap.Pop(&q.items).(*queueItem)
		remaining = append(remaining, item.task)
	}
	q.byTask = make(map[*Task]*queueItem)
	q.mu.Unlock()

	q.drained.Broadcast()
	q.arrived.Broadcast()
	return remaining
}
