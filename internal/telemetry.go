// Package internal contains the telemetry shared by all the components of the library.
package internal

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopePrefix = "github.com/FerroO2000/gruppo/"

var (
	logLevel        = new(slog.LevelVar)
	otelLogsEnabled atomic.Bool
)

// SetLogLevel sets the minimum level of the console logs.
// It affects both the telemetries already created and the new ones.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// EnableOTelLogs routes the logs of the telemetries created from now on
// to the global OpenTelemetry logger provider instead of the console.
func EnableOTelLogs() {
	otelLogsEnabled.Store(true)
}

func newLogHandler(scope string) slog.Handler {
	if otelLogsEnabled.Load() {
		return otelslog.NewHandler(scope)
	}

	out := os.Stderr
	return tint.NewHandler(colorable.NewColorable(out), &tint.Options{
		Level:      logLevel,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(out.Fd()),
	})
}

// Telemetry groups the logger, the tracer and the meter of a component.
// Every log record, span, and metric carries the kind and the name of the component.
type Telemetry struct {
	kind string
	name string

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	attrs metric.MeasurementOption
}

// NewTelemetry returns the telemetry for the component
// with the given kind (e.g. "store") and name (e.g. "unbounded").
func NewTelemetry(kind, name string) *Telemetry {
	scope := scopePrefix + kind

	return &Telemetry{
		kind: kind,
		name: name,

		logger: slog.New(newLogHandler(scope)).With("kind", kind, "name", name),
		tracer: otel.Tracer(scope),
		meter:  otel.Meter(scope),

		attrs: metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
		),
	}
}

// LogDebug logs a debug message.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.Debug(msg, args...)
}

// LogInfo logs an info message.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a warning message.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs an error message with the given error attached.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{tint.Err(err)}, args...)...)
}

// NewTrace starts a new span as a child of the span stored in the context.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("kind", t.kind),
			attribute.String("name", t.name),
		),
	)
}

// NewCounter registers a monotonic observable counter
// whose value is read from the given function on every collection.
func (t *Telemetry) NewCounter(name string, valueFn func() int64) {
	_, err := t.meter.Int64ObservableCounter(name,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(valueFn(), t.attrs)
			return nil
		}),
	)

	if err != nil {
		t.LogError("failed to create counter", err, "counter", name)
	}
}

// NewUpDownCounter registers an observable counter that can also decrease.
func (t *Telemetry) NewUpDownCounter(name string, valueFn func() int64) {
	_, err := t.meter.Int64ObservableUpDownCounter(name,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(valueFn(), t.attrs)
			return nil
		}),
	)

	if err != nil {
		t.LogError("failed to create up-down counter", err, "counter", name)
	}
}

// Histogram is a synchronous histogram bound to the attributes of a telemetry.
type Histogram struct {
	hist  metric.Int64Histogram
	attrs metric.MeasurementOption
}

// Record records the value.
func (h *Histogram) Record(ctx context.Context, value int64) {
	if h.hist == nil {
		return
	}

	h.hist.Record(ctx, value, h.attrs)
}

// NewHistogram returns a new histogram.
// If the instrument cannot be created, the returned histogram discards every record.
func (t *Telemetry) NewHistogram(name string, opts ...metric.Int64HistogramOption) *Histogram {
	hist, err := t.meter.Int64Histogram(name, opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "histogram", name)
		return &Histogram{}
	}

	return &Histogram{
		hist:  hist,
		attrs: t.attrs,
	}
}
