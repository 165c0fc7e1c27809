package rb

import (
	"runtime"
	"sync/atomic"
)

var _ buffer[any] = (*mpscBuffer[any])(nil)

type slot[T any] struct {
	ready atomic.Bool
	item  T
}

// mpscBuffer is safe for many producers and one consumer.
// A producer claims a slot by moving the head, then publishes the item
// through the ready flag of the slot.
type mpscBuffer[T any] struct {
	cursors

	slots []slot[T]
}

func newMPSCBuffer[T any](capacity uint64) *mpscBuffer[T] {
	b := &mpscBuffer[T]{
		slots: make([]slot[T], capacity),
	}
	b.init(capacity)

	return b
}

func (b *mpscBuffer[T]) push(item T) bool {
	for {
		head := b.head.Load()
		if head-b.tail.Load() >= b.capacity {
			return false
		}

		if !b.head.CompareAndSwap(head, head+1) {
			runtime.Gosched()
			continue
		}

		s := &b.slots[head&b.capMask]
		s.item = item
		s.ready.Store(true)

		return true
	}
}

func (b *mpscBuffer[T]) pop() (T, bool) {
	var zero T

	tail := b.tail.Load()
	s := &b.slots[tail&b.capMask]

	// Either empty, or the producer of the slot has not published yet.
	if !s.ready.Load() {
		return zero, false
	}

	item := s.item
	s.item = zero
	s.ready.Store(false)
	b.tail.Store(tail + 1)

	return item, true
}
