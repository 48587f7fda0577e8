package events

import (
	"container/heap"
	"context"
	"sync"
)

// waitOnCtx blocks cond.Wait() until either a broadcast occurs or ctx is
// done, by spawning a watcher goroutine that broadcasts on ctx.Done(). The
// caller must hold cond.L when calling this, exactly as for cond.Wait().
func waitOnCtx(ctx context.Context, cond *sync.Cond) {
	if ctx == nil || ctx.Done() == nil {
		cond.Wait()
		return
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cond.L.Lock()
			cond.Broadcast()
			cond.L.Unlock()
		case <-stop:
		}
	}()
	cond.Wait()
	close(stop)
}

// FIFOQueue is an unbounded, thread-safe, strictly arrival-ordered queue.
// It backs the dispatcher's global input queue, which carries no priority
// of its own.
type FIFOQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Event
	closed bool
}

// NewFIFOQueue constructs an empty FIFOQueue.
func NewFIFOQueue() *FIFOQueue {
	q := &FIFOQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends e to the back of the queue and wakes one blocked Pop.
func (q *FIFOQueue) Push(e *Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available, ctx is done, or the queue is
// closed. ok is false if it returned empty-handed.
func (q *FIFOQueue) Pop(ctx context.Context) (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx != nil && ctx.Err() != nil {
			return nil, false
		}
		waitOnCtx(ctx, q.cond)
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// TryPop returns immediately: (nil, false) if the queue is empty.
func (q *FIFOQueue) TryPop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the current number of queued items.
func (q *FIFOQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all queued items without closing the queue.
func (q *FIFOQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Close marks the queue closed and wakes every blocked Pop; subsequent
// Pops return immediately with ok=false once drained.
func (q *FIFOQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wake rouses any goroutine blocked in Pop without pushing an item, used by
// the dispatcher to signal a lifecycle transition to a blocked consumer.
func (q *FIFOQueue) Wake() {
	q.cond.Broadcast()
}

// WaitForChange blocks until the next Push, Close, or Wake.
func (q *FIFOQueue) WaitForChange() {
	q.mu.Lock()
	q.cond.Wait()
	q.mu.Unlock()
}

// queueItem is a PriorityQueue element: the event plus the monotonic
// sequence number it was pushed with, used to break priority ties FIFO.
type queueItem struct {
	event *Event
	seq   uint64
}

type priorityHeap []*queueItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].event.priority != h[j].event.priority {
		return h[i].event.priority > h[j].event.priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*queueItem)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is an unbounded, thread-safe binary-heap queue ordered by
// (priority desc, sequence asc). It backs every Subscriber's local queue.
type PriorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   priorityHeap
	seq    uint64
	closed bool
}

// NewPriorityQueue constructs an empty PriorityQueue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts e, assigning it the next local sequence number for
// FIFO tie-breaking against same-priority events already queued.
func (q *PriorityQueue) Push(e *Event) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, &queueItem{event: e, seq: q.seq})
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available, ctx is done, or the queue is
// closed.
func (q *PriorityQueue) Pop(ctx context.Context) (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		if ctx != nil && ctx.Err() != nil {
			return nil, false
		}
		waitOnCtx(ctx, q.cond)
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*queueItem)
	return item.event, true
}

// TryPop returns immediately: (nil, false) if the queue is empty.
func (q *PriorityQueue) TryPop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*queueItem)
	return item.event, true
}

// Len returns the current number of queued items.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Clear discards all queued items without closing the queue.
func (q *PriorityQueue) Clear() {
	q.mu.Lock()
	q.heap = q.heap[:0]
	q.mu.Unlock()
}

// Close marks the queue closed and wakes every blocked Pop.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// DrainAll removes and returns every queued item in priority order.
func (q *PriorityQueue) DrainAll() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Event, 0, len(q.heap))
	for len(q.heap) > 0 {
		item := heap.Pop(&q.heap).(*queueItem)
		out = append(out, item.event)
	}
	return out
}
