package rb

var _ buffer[any] = (*spscBuffer[any])(nil)

// spscBuffer is safe for one producer and one consumer.
type spscBuffer[T any] struct {
	cursors

	items []T
}

func newSPSCBuffer[T any](capacity uint64) *spscBuffer[T] {
	b := &spscBuffer[T]{
		items: make([]T, capacity),
	}
	b.init(capacity)

	return b
}

func (b *spscBuffer[T]) push(item T) bool {
	head := b.head.Load()
	if head-b.tail.Load() >= b.capacity {
		return false
	}

	b.items[head&b.capMask] = item
	b.head.Store(head + 1)

	return true
}

func (b *spscBuffer[T]) pop() (T, bool) {
	var zero T

	tail := b.tail.Load()
	if tail == b.head.Load() {
		return zero, false
	}

	idx := tail & b.capMask
	item := b.items[idx]
	b.items[idx] = zero
	b.tail.Store(tail + 1)

	return item, true
}
