package jobs

import (
	"context"
	"sync"
)

// WorkItem is one unit of queued work. Run captures the job id and its handler; job state is
// re-read inside it.
type WorkItem struct {
	JobID string
	Type  Type
	Run   func(ctx context.Context) error
}

// Queue is an unbounded FIFO of work items. Enqueue never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []WorkItem
	signal chan struct{}
}

// NewQueue constructs an empty queue. capacityHint pre-sizes the backing slice.
func NewQueue(capacityHint int) *Queue {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Queue{
		items:  make([]WorkItem, 0, capacityHint),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends item and wakes a waiting consumer.
func (q *Queue) Enqueue(item WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes the oldest item, waiting until one is available or ctx is done.
// A done ctx wins over a waiting item, so the backlog stays queued at shutdown.
func (q *Queue) Dequeue(ctx context.Context) (WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return WorkItem{}, err
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = WorkItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// pushFront returns an item taken by Dequeue to the head of the queue.
func (q *Queue) pushFront(item WorkItem) {
	q.mu.Lock()
	q.items = append([]WorkItem{item}, q.items...)
	q.mu.Unlock()
}

// Len reports the number of waiting items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
