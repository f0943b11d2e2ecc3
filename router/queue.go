package router

import (
	"container/heap"
	"sync"

	"github.com/agentgrid/agentgrid/core"
)

// queuedMessage pairs a message with the channel its caller is waiting on.
type queuedMessage struct {
	msg    *Message
	respCh chan dispatchResult
	seq    uint64
}

// messageHeap orders by descending priority, then ascending sequence so that
// messages within one tier drain FIFO.
type messageHeap []*queuedMessage

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(*queuedMessage)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// messageQueue is the mutex-guarded priority queue feeding the dispatch
// worker. The signal channel carries at most one pending wake-up; the worker
// drains the heap completely on every wake.
type messageQueue struct {
	mu       sync.Mutex
	h        messageHeap
	seq      uint64
	capacity int
	signal   chan struct{}
}

func newMessageQueue(capacity int) *messageQueue {
	return &messageQueue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// push enqueues and wakes the worker. It rejects with a queue_full error when
// the configured capacity is reached.
func (q *messageQueue) push(item *queuedMessage) error {
	q.mu.Lock()
	if q.capacity > 0 && len(q.h) >= q.capacity {
		q.mu.Unlock()
		return core.NewQueueFullError(q.capacity)
	}
	q.seq++
	item.seq = q.seq
	heap.Push(&q.h, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the highest priority message, reporting false on empty.
func (q *messageQueue) pop() (*queuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*queuedMessage), true
}

// depth returns the number of waiting messages.
func (q *messageQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// drain empties the queue, failing every waiting caller with err.
func (q *messageQueue) drain(err error) {
	q.mu.Lock()
	items := q.h
	q.h = nil
	q.mu.Unlock()

	for _, item := range items {
		item.respCh <- dispatchResult{err: err}
	}
}
