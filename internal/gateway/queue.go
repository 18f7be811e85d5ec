package gateway

import (
	"container/heap"

	"github.com/relayguard/relayguard/internal/models"
)

// queuedItem is one outbound message waiting for connectivity.
type queuedItem struct {
	call *pendingCall
	rank int    // priority rank, higher dispatches first
	seq  uint64 // insertion order, lower dispatches first within a rank
}

// priorityQueue orders messages emergency > critical > high > medium > low,
// FIFO within the same priority. Not safe for concurrent use; the router
// serializes access under its own lock.
type priorityQueue struct {
	items   itemHeap
	maxSize int
	nextSeq uint64
}

func newPriorityQueue(maxSize int) *priorityQueue {
	return &priorityQueue{maxSize: maxSize}
}

// Push inserts a message. Returns false when the queue is at capacity.
func (q *priorityQueue) Push(call *pendingCall, priority models.Priority) bool {
	if q.maxSize > 0 && q.items.Len() >= q.maxSize {
		return false
	}
	q.nextSeq++
	heap.Push(&q.items, &queuedItem{
		call: call,
		rank: priority.Rank(),
		seq:  q.nextSeq,
	})
	return true
}

// Pop removes and returns the highest-priority message, or nil when empty.
func (q *priorityQueue) Pop() *pendingCall {
	if q.items.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queuedItem)
	return item.call
}

// Remove drops the message with the given frame id, if queued.
func (q *priorityQueue) Remove(id string) bool {
	for i, item := range q.items {
		if item.call.frame.ID == id {
			heap.Remove(&q.items, i)
			return true
		}
	}
	return false
}

// Drain removes and returns every queued message in dispatch order.
func (q *priorityQueue) Drain() []*pendingCall {
	out := make([]*pendingCall, 0, q.items.Len())
	for q.items.Len() > 0 {
		out = append(out, q.Pop())
	}
	return out
}

func (q *priorityQueue) Len() int {
	return q.items.Len()
}

type itemHeap []*queuedItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*queuedItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
