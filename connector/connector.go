// Package connector contains the queues that bring envelopes to a stage.
package connector

import (
	"context"

	"github.com/FerroO2000/gruppo/internal/rb"
)

// ErrClosed is returned when the connector is closed.
var ErrClosed = rb.ErrClosed

// Connector is a queue between the producers of items and a stage.
type Connector[T any] interface {
	// Write writes the item, blocking while the connector is full.
	Write(ctx context.Context, item T) error
	// Read reads an item, blocking while the connector is empty.
	// It returns [ErrClosed] once the connector is closed and drained.
	Read(ctx context.Context) (T, error)
	// Close closes the connector.
	Close()
}
