// Package rb provides a lock-free generic ring buffer with blocking reads and writes.
package rb

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

var maxSpins = runtime.NumCPU() * 32

// ErrClosed is returned when the buffer is closed.
var ErrClosed = errors.New("ring buffer: buffer is closed")

// BufferKind is the type of the internal buffer implementation.
type BufferKind uint8

const (
	// BufferKindSPSC is the single producer/single consumer implementation.
	BufferKindSPSC BufferKind = iota
	// BufferKindMPSC is the multiple producer/single consumer implementation.
	BufferKindMPSC
)

func (bk BufferKind) String() string {
	switch bk {
	case BufferKindSPSC:
		return "SPSC"
	case BufferKindMPSC:
		return "MPSC"
	default:
		return "unknown"
	}
}

// RingBuffer is a lock-free generic ring buffer.
// Writes block while the buffer is full, reads block while it is empty.
// After Close, reads drain the buffered items before returning [ErrClosed].
type RingBuffer[T any] struct {
	kind BufferKind

	buf buffer[T]

	_ cpu.CacheLinePad

	isClosed  atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once

	// notEmpty and notFull hold at most one pending wake-up each.
	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewRingBuffer returns a new ring buffer.
// The capacity is rounded up to a power of 2.
func NewRingBuffer[T any](capacity uint32, kind BufferKind) *RingBuffer[T] {
	rb := &RingBuffer[T]{
		kind: kind,

		closed: make(chan struct{}),

		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}

	parsedCapacity := roundToPowerOf2(capacity)

	switch kind {
	case BufferKindMPSC:
		rb.buf = newMPSCBuffer[T](parsedCapacity)
	default:
		rb.kind = BufferKindSPSC
		rb.buf = newSPSCBuffer[T](parsedCapacity)
	}

	return rb
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Write writes the item, waiting for space while the buffer is full.
// It returns [ErrClosed] if the buffer is closed,
// or the context error if the context is done first.
func (rb *RingBuffer[T]) Write(ctx context.Context, item T) error {
	for {
		if rb.isClosed.Load() {
			return ErrClosed
		}

		for range maxSpins {
			if rb.buf.push(item) {
				notify(rb.notEmpty)
				return nil
			}

			runtime.Gosched()
		}

		select {
		case <-ctx.Done():
			// Pass the wake-up on to another producer.
			notify(rb.notFull)
			return ctx.Err()

		case <-rb.closed:
			return ErrClosed

		case <-rb.notFull:
			if rb.buf.push(item) {
				notify(rb.notEmpty)

				if uint64(rb.buf.len()) < rb.buf.size() {
					notify(rb.notFull)
				}

				return nil
			}
		}
	}
}

// Read reads an item, waiting while the buffer is empty.
// It returns [ErrClosed] once the buffer is closed and drained,
// or the context error if the context is done first.
func (rb *RingBuffer[T]) Read(ctx context.Context) (T, error) {
	for {
		for range maxSpins {
			if item, ok := rb.buf.pop(); ok {
				notify(rb.notFull)
				return item, nil
			}

			runtime.Gosched()
		}

		if rb.isClosed.Load() && rb.buf.len() == 0 {
			return *new(T), ErrClosed
		}

		select {
		case <-ctx.Done():
			return *new(T), ctx.Err()

		case <-rb.closed:
			// Drain before reporting the buffer as closed.

		case <-rb.notEmpty:
		}
	}
}

// Kind returns the kind of the buffer.
func (rb *RingBuffer[T]) Kind() BufferKind {
	return rb.kind
}

// Len returns the number of items in the buffer.
func (rb *RingBuffer[T]) Len() uint32 {
	return rb.buf.len()
}

// Close closes the buffer. Pending and future writes fail with [ErrClosed].
func (rb *RingBuffer[T]) Close() {
	rb.closeOnce.Do(func() {
		rb.isClosed.Store(true)
		close(rb.closed)
	})
}
