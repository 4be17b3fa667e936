package session

import "sync"

// queue is a blocking FIFO with close semantics. The stdout reader goroutine
// pushes, the session consumer pops; order is strictly FIFO.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available or the queue is closed and drained.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.head >= len(q.items) {
		q.cond.Wait()
	}
	return q.take()
}

// tryPop returns immediately; ok is false when nothing is buffered.
func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	return q.take()
}

func (q *queue[T]) take() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	item := q.items[q.head]
	q.head++
	q.compact()
	return item, true
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *queue[T]) compact() {
	if q.head == 0 {
		return
	}
	if q.head < 1024 && q.head*2 < len(q.items) {
		return
	}
	remaining := len(q.items) - q.head
	copy(q.items[:remaining], q.items[q.head:])
	q.items = q.items[:remaining]
	q.head = 0
}
