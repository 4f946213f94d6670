package pump

import "sync"

// fifo is an unbounded queue with a wake-up channel. Push never blocks.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	signal chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{signal: make(chan struct{}, 1)}
}

func (q *fifo[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
}

func (q *fifo[T]) pop() (T, bool) {
	var zero T
	q.mu.Lock()
	if q.head == len(q.items) {
		q.mu.Unlock()
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	remaining := len(q.items) - q.head
	if remaining == 0 {
		q.items = q.items[:0]
		q.head = 0
	}
	q.mu.Unlock()

	// Pass the wake-up on so another idle worker picks up the rest.
	if remaining > 0 {
		q.wake()
	}
	return item, true
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *fifo[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// wakeup returns the signal channel, or nil for a nil queue so that a select
// case on it never fires.
func (q *fifo[T]) wakeup() <-chan struct{} {
	if q == nil {
		return nil
	}
	return q.signal
}
