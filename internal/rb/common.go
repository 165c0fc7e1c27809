package rb

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type buffer[T any] interface {
	push(item T) bool
	pop() (T, bool)
	len() uint32
	size() uint64
}

// cursors holds the head and the tail of a buffer,
// each one on its own cache line.
type cursors struct {
	head atomic.Uint64

	_ cpu.CacheLinePad

	tail atomic.Uint64

	_ cpu.CacheLinePad

	capacity uint64
	capMask  uint64
}

func (c *cursors) init(capacity uint64) {
	c.capacity = capacity
	c.capMask = capacity - 1
}

func (c *cursors) len() uint32 {
	return uint32(c.head.Load() - c.tail.Load())
}

func (c *cursors) size() uint64 {
	return c.capacity
}

// roundToPowerOf2 returns the smallest power of 2 not lower than n, at least 2.
func roundToPowerOf2(n uint32) uint64 {
	capacity := uint64(2)
	for capacity < uint64(n) {
		capacity <<= 1
	}
	return capacity
}
