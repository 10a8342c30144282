package service

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/ludo-technologies/connscan/domain"
)

// requestQueue is a bounded priority queue of analysis requests. Higher
// priority is served first; equal priorities are served in arrival order.
// A push onto a full queue fails instead of blocking.
type requestQueue struct {
	mu       sync.Mutex
	items    requestHeap
	capacity int
	seq      uint64
	notify   chan struct{}
}

type queuedRequest struct {
	req domain.AnalysisRequest
	seq uint64
}

type requestHeap []queuedRequest

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)   { *h = append(*h, x.(queuedRequest)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newRequestQueue(capacity int) *requestQueue {
	return &requestQueue{
		items:    make(requestHeap, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// TryPush enqueues req, reporting false when the queue is full
func (q *requestQueue) TryPush(req domain.AnalysisRequest) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, queuedRequest{req: req, seq: q.seq})
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop waits up to timeout for a request. It returns false on timeout or
// when ctx is done.
func (q *requestQueue) Pop(ctx context.Context, timeout time.Duration) (domain.AnalysisRequest, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if req, ok := q.tryPop(); ok {
			return req, true
		}
		select {
		case <-ctx.Done():
			return domain.AnalysisRequest{}, false
		case <-timer.C:
			return domain.AnalysisRequest{}, false
		case <-q.notify:
		}
	}
}

func (q *requestQueue) tryPop() (domain.AnalysisRequest, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return domain.AnalysisRequest{}, false
	}
	item := heap.Pop(&q.items).(queuedRequest)
	remaining := len(q.items)
	q.mu.Unlock()

	// pass the wakeup on to the next idle worker
	if remaining > 0 {
		q.signal()
	}
	return item.req, true
}

func (q *requestQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued requests
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue bound
func (q *requestQueue) Cap() int {
	return q.capacity
}
