package gruppo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/FerroO2000/gruppo/connector"
	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/message"
)

// Handler handles a single envelope.
// It is implemented by [aggregator.Handler].
type Handler interface {
	Handle(ctx context.Context, env *message.Envelope) error
}

var _ Stage = (*FeederStage)(nil)

// FeederStage is a stage that reads the envelopes from a connector
// and passes them to a handler, one at a time.
// It stops when the connector is closed and drained.
type FeederStage struct {
	tel *internal.Telemetry

	in      connector.Connector[*message.Envelope]
	handler Handler

	closeOnce sync.Once
	done      chan struct{}

	// Metrics
	fedMsgs    atomic.Int64
	failedMsgs atomic.Int64
}

// NewFeederStage returns a new feeder stage.
func NewFeederStage(in connector.Connector[*message.Envelope], handler Handler) *FeederStage {
	fs := &FeederStage{
		tel: internal.NewTelemetry("gruppo", "feeder"),

		in:      in,
		handler: handler,

		done: make(chan struct{}),
	}

	fs.tel.NewCounter("fed_messages", func() int64 { return fs.fedMsgs.Load() })
	fs.tel.NewCounter("failed_messages", func() int64 { return fs.failedMsgs.Load() })

	return fs
}

// Init initializes the stage.
func (fs *FeederStage) Init(_ context.Context) error {
	fs.tel.LogInfo("initializing")

	return nil
}

// Run feeds the handler until the connector is closed,
// the context is done, or the stage is closed.
// Handler errors are logged and do not stop the stage.
func (fs *FeederStage) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-fs.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		env, err := fs.in.Read(ctx)
		if err != nil {
			if errors.Is(err, connector.ErrClosed) {
				fs.tel.LogInfo("input connector closed")
			}
			return
		}

		fs.fedMsgs.Add(1)

		if err := fs.handler.Handle(ctx, env); err != nil {
			fs.failedMsgs.Add(1)
			fs.tel.LogWarn("handler rejected envelope", "reason", err.Error())
		}
	}
}

// Close closes the stage.
func (fs *FeederStage) Close() {
	fs.closeOnce.Do(func() {
		fs.tel.LogInfo("closing")
		close(fs.done)
	})
}
