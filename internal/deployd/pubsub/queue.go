package pubsub

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded per-observer outbound queue. Pushing never blocks: when the queue is
// full the oldest item is dropped to make room.
type Queue[E Event] struct {
	mu       sync.Mutex
	items    []E
	capacity int
	closed   bool
	dropped  uint64
	notify   chan struct{}
}

func NewQueue[E Event](capacity int) *Queue[E] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[E]{
		items:    make([]E, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends e and reports whether an older item had to be dropped.
func (q *Queue[E]) Push(e E) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	dropped := false
	if len(q.items) >= q.capacity {
		q.items = append(q.items[:0], q.items[1:]...)
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	q.wake()
	return dropped
}

// Prime puts initial ahead of everything already queued. Queued items for which keep
// returns false are discarded; this is how replayed history is deduplicated against
// events published while the replay was being assembled.
func (q *Queue[E]) Prime(initial []E, keep func(E) bool) {
	q.mu.Lock()
	pending := q.items
	items := make([]E, 0, len(initial)+len(pending))
	items = append(items, initial...)
	for _, e := range pending {
		if keep == nil || keep(e) {
			items = append(items, e)
		}
	}
	// the replay itself is never dropped; only live items beyond capacity are
	for len(items) > q.capacity && len(items) > len(initial) {
		items = append(items[:len(initial)], items[len(initial)+1:]...)
		q.dropped++
	}
	q.items = items
	q.mu.Unlock()

	q.wake()
}

// Next blocks until an item is available, the queue is closed, or ctx is done.
func (q *Queue[E]) Next(ctx context.Context) (E, error) {
	var zero E
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *Queue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[E]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[E]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue[E]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
