package action

import (
	"sync"

	"codechat/internal/logging"
)

// Queue is the pending-action list for one conversation. The mutex guards the
// list itself (membership and ordering); the Status and Error fields of each
// item belong to the component executing it, so status-based reads
// (Pending, ClearCompleted) are meaningful between batch runs, not during one
// running on another goroutine.
type Queue struct {
	mu    sync.Mutex
	items []*QueuedAction
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an action in pending state and returns its queue entry.
func (q *Queue) Enqueue(a Action) *QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := NewQueuedAction(a)
	q.items = append(q.items, item)
	logging.ActionDebug("Queue: enqueued %s %q (pending=%d)", a.Kind(), a.Label(), len(q.items))
	return item
}

// Items returns a snapshot of the queue in order.
func (q *Queue) Items() []*QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*QueuedAction(nil), q.items...)
}

// Pending returns the items still awaiting execution.
func (q *Queue) Pending() []*QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*QueuedAction
	for _, item := range q.items {
		if item.Status == StatusPending {
			pending = append(pending, item)
		}
	}
	return pending
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ClearCompleted removes only completed items, leaving pending, in-flight and
// failed entries for the user to inspect or retry.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Status == StatusCompleted {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	if removed > 0 {
		logging.ActionDebug("Queue: cleared %d completed items", removed)
	}
	return removed
}

// ClearAll empties the queue. An in-flight item keeps running to completion in
// the batch runner; it is simply abandoned from the queue's point of view,
// since individual executor calls are not separately cancellable.
func (q *Queue) ClearAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := len(q.items)
	q.items = nil
	if removed > 0 {
		logging.Action("Queue: cleared all %d items", removed)
	}
	return removed
}
