package gruppo

import (
	"log/slog"

	"github.com/FerroO2000/gruppo/aggregator"
	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/release"
	"github.com/FerroO2000/gruppo/store"
)

// NewResequencer returns a handler that writes the envelopes
// of every correlation key in sequence order.
// The sequences have no known size: a group keeps at most
// the last released envelope, so its memory does not grow with the sequence.
func NewResequencer(output aggregator.Output, cfg *aggregator.Config) *aggregator.Handler {
	st := store.NewUnboundedStore(store.NewSimpleStore(nil))
	return aggregator.NewHandler(st, release.NewUnboundedStrategy(), output, cfg)
}

// NewAggregator returns a handler that writes a group, in sequence order,
// once it holds all the envelopes declared by the sequence size header.
func NewAggregator(output aggregator.Output, cfg *aggregator.Config) *aggregator.Handler {
	return aggregator.NewHandler(store.NewSimpleStore(nil), release.NewSequenceSizeStrategy(false), output, cfg)
}

// SetLogLevel sets the level of the library logs.
func SetLogLevel(level slog.Level) {
	internal.SetLogLevel(level)
}

// EnableOTelLogs sends the library logs to the global OpenTelemetry logger provider
// instead of the console. It affects the components created afterwards.
func EnableOTelLogs() {
	internal.EnableOTelLogs()
}
