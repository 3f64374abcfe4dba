package mqtt

import "sync"

// Inbox is an unbounded FIFO that hands messages from MQTT handlers to a
// component's own goroutine.
//
// Handlers run on the paho router goroutine, in arrival order. A handler
// that blocks stalls every other subscription on the connection, including
// the acknowledgments a Publish or Subscribe call is waiting for. Push
// therefore never blocks: it appends and signals.
//
// Thread Safety:
//   - Push, Drain, Len and Close are safe for concurrent use.
//   - Intended for one consumer goroutine selecting on Ready.
type Inbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox[T any]() *Inbox[T] {
	return &Inbox[T]{ready: make(chan struct{}, 1)}
}

// Push appends v and wakes the consumer.
//
// Returns:
//   - bool: false if the inbox is closed and v was dropped
func (q *Inbox[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after Push. One signal may cover several items, so
// the consumer should Drain until it gets nothing back.
func (q *Inbox[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns every queued item in arrival order.
func (q *Inbox[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued items.
func (q *Inbox[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close drops queued items and makes further Push calls no-ops.
func (q *Inbox[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}
