// Package fifo provides an unbounded, blocking first-in first-out queue that a
// single consumer goroutine drains in insertion order.
package fifo

import (
	"sync"

	"github.com/eapache/queue"
)

// Queue is an unbounded FIFO of T values. Any number of producers may Push;
// one consumer calls Pop, which blocks until an item is available or the
// queue is sealed and drained. It is safe for concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	sealed bool
}

// New returns an empty, open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v to the tail of the queue.
//
// Parameters:
//   - v: The item to enqueue
//
// Returns:
//   - false if the queue is sealed and v was dropped, true otherwise
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return false
	}

	q.items.Add(v)
	q.cond.Signal()
	return true
}

// PushAndSeal appends the given items and seals the queue in one step, so no
// other producer can slip an item in after them. Items already queued are
// kept and will still be returned by Pop.
//
// Returns:
//   - false if the queue was already sealed, true otherwise
func (q *Queue[T]) PushAndSeal(vs ...T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return false
	}

	for _, v := range vs {
		q.items.Add(v)
	}

	q.sealed = true
	q.cond.Broadcast()
	return true
}

// Discard drops every queued item and seals the queue. A blocked Pop returns
// immediately with ok == false.
//
// Returns:
//   - The number of items dropped
func (q *Queue[T]) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Length()
	q.items = queue.New()
	q.sealed = true
	q.cond.Broadcast()
	return n
}

// Pop removes and returns the head of the queue, blocking while the queue is
// empty and open.
//
// Returns:
//   - The head item and true, or the zero value and false once the queue is
//     sealed and empty
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 && !q.sealed {
		q.cond.Wait()
	}

	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}

	return q.items.Remove().(T), true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Sealed reports whether the queue no longer accepts items.
func (q *Queue[T]) Sealed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sealed
}
