package connector

import (
	"github.com/FerroO2000/gruppo/internal/rb"
)

var _ Connector[any] = (*RingBuffer[any])(nil)

// RingBuffer is a lock-free generic ring buffer.
type RingBuffer[T any] = rb.RingBuffer[T]

// NewRingBuffer returns a new ring buffer for a single producer.
func NewRingBuffer[T any](capacity uint32) *RingBuffer[T] {
	return rb.NewRingBuffer[T](capacity, rb.BufferKindSPSC)
}

// NewSharedRingBuffer returns a new ring buffer
// that many producers can write to concurrently.
func NewSharedRingBuffer[T any](capacity uint32) *RingBuffer[T] {
	return rb.NewRingBuffer[T](capacity, rb.BufferKindMPSC)
}
