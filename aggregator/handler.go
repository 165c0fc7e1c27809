// Package aggregator contains the handler that correlates envelopes into groups
// and writes them out once a release strategy allows it.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/internal/config"
	"github.com/FerroO2000/gruppo/internal/lock"
	"github.com/FerroO2000/gruppo/message"
	"github.com/FerroO2000/gruppo/release"
	"github.com/FerroO2000/gruppo/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrMissingCorrelationKey is returned when an envelope has no correlation key.
	ErrMissingCorrelationKey = errors.New("missing correlation key")
	// ErrNilStore is returned when the handler has no store.
	ErrNilStore = errors.New("nil store")
	// ErrNilStrategy is returned when the handler has no release strategy.
	ErrNilStrategy = errors.New("nil release strategy")
)

// Handler adds the envelopes it receives to the group of their correlation key
// and writes them to the output when the release strategy allows it.
//
// With a [release.PartialStrategy] in partial mode, the envelopes are written
// one at a time in sequence order, which makes the handler a resequencer.
// Otherwise, the whole group is written at once and then removed.
//
// Correlation keys must be comparable.
type Handler struct {
	tel *internal.Telemetry

	cfg *Config

	store    store.Store
	strategy release.Strategy

	output        Output
	discardOutput Output

	keyLocks *lock.Striped

	initOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}

	// Metrics
	receivedMsgs   atomic.Int64
	releasedMsgs   atomic.Int64
	expiredGroups  atomic.Int64
	discardedMsgs  atomic.Int64
	handleErrors   atomic.Int64
	handleDuration *internal.Histogram
}

// NewHandler returns a new handler.
// A nil output drops the released envelopes, a nil configuration means the default one.
func NewHandler(st store.Store, strategy release.Strategy, output Output, cfg *Config) *Handler {
	if cfg == nil {
		cfg = NewConfig()
	}

	tel := internal.NewTelemetry("aggregator", "handler")
	config.NewValidator(tel).Validate(cfg)

	if output == nil {
		tel.LogWarn("nil output, released envelopes are dropped")
		output = discardOutput
	}

	h := &Handler{
		tel: tel,

		cfg: cfg,

		store:    st,
		strategy: strategy,

		output:        output,
		discardOutput: discardOutput,

		keyLocks: lock.NewStriped(lock.DefaultStripes),

		done: make(chan struct{}),
	}

	h.initMetrics()

	return h
}

func (h *Handler) initMetrics() {
	h.tel.NewCounter("received_messages", func() int64 { return h.receivedMsgs.Load() })
	h.tel.NewCounter("released_messages", func() int64 { return h.releasedMsgs.Load() })
	h.tel.NewCounter("expired_groups", func() int64 { return h.expiredGroups.Load() })
	h.tel.NewCounter("discarded_messages", func() int64 { return h.discardedMsgs.Load() })
	h.tel.NewCounter("handle_errors", func() int64 { return h.handleErrors.Load() })

	h.handleDuration = h.tel.NewHistogram("handle_duration", metric.WithUnit("us"))
}

// SetDiscardOutput sets the output receiving the envelopes of the expired groups
// when they are not sent to the main output.
func (h *Handler) SetDiscardOutput(output Output) {
	if output == nil {
		output = discardOutput
	}

	h.discardOutput = output
}

// Init registers the expiry callback on the store.
func (h *Handler) Init(_ context.Context) error {
	h.tel.LogInfo("initializing")

	if h.store == nil {
		return ErrNilStore
	}

	if h.strategy == nil {
		return ErrNilStrategy
	}

	h.initOnce.Do(func() {
		h.store.RegisterMessageGroupExpiryCallback(h.onExpiry)
	})

	return nil
}

// Run checks for expired groups every expiry interval.
// It blocks until the context is done or the handler is closed.
// If the group timeout is zero, groups never expire and Run only waits.
func (h *Handler) Run(ctx context.Context) {
	if h.cfg.GroupTimeout == 0 {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		return
	}

	ticker := time.NewTicker(h.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.Reap(ctx)
		}
	}
}

// Close stops the handler.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		h.tel.LogInfo("closing")
		close(h.done)
	})
}

// Reap expires the groups untouched for longer than the group timeout
// and returns how many expired. It does nothing if the group timeout is zero.
func (h *Handler) Reap(ctx context.Context) int {
	if h.cfg.GroupTimeout == 0 {
		return 0
	}

	_, span := h.tel.NewTrace(ctx, "reap expired groups")
	defer span.End()

	expired := h.store.ExpireMessageGroups(h.cfg.GroupTimeout)
	span.SetAttributes(attribute.Int("expired_groups", expired))

	if expired > 0 {
		h.tel.LogDebug("reaped expired groups", "expired", expired)
	}

	return expired
}

// Handle adds the envelope to its group and writes out
// whatever the release strategy allows.
func (h *Handler) Handle(ctx context.Context, env *message.Envelope) error {
	ctx, span := h.tel.NewTrace(ctx, "handle envelope")
	defer span.End()

	start := time.Now()
	defer func() {
		h.handleDuration.Record(ctx, time.Since(start).Microseconds())
	}()

	h.receivedMsgs.Add(1)

	released, err := h.handle(env, span)
	span.SetAttributes(attribute.Int("released_messages", released))

	if err != nil {
		h.handleErrors.Add(1)

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to handle envelope")

		h.tel.LogError("failed to handle envelope", err)
		return err
	}

	return nil
}

func (h *Handler) handle(env *message.Envelope, span trace.Span) (int, error) {
	if env == nil {
		return 0, store.ErrNilMessage
	}

	key, ok := env.GetHeader(h.cfg.CorrelationHeader)
	if !ok || key == nil {
		return 0, fmt.Errorf("envelope %s, header %q: %w", env.GetID(), h.cfg.CorrelationHeader, ErrMissingCorrelationKey)
	}

	span.SetAttributes(
		attribute.String("group_id", fmt.Sprint(key)),
		attribute.String("envelope_id", env.GetID().String()),
	)

	unlock := h.keyLocks.Lock(key)
	defer unlock()

	group, err := h.store.AddMessageToGroup(key, env)
	if err != nil {
		return 0, fmt.Errorf("failed to add envelope to group %v: %w", key, err)
	}

	partial, ok := h.strategy.(release.PartialStrategy)
	if ok && partial.ReleasesPartialSequences() {
		return h.releasePartial(key, group, partial)
	}

	return h.releaseGroup(key, group)
}

// releasePartial writes the unmarked envelopes one by one, in sequence order,
// while the strategy allows it. A bounded group is removed once all
// of its envelopes are released.
func (h *Handler) releasePartial(key any, group store.Group, strategy release.PartialStrategy) (int, error) {
	released := 0

	for {
		next, err := strategy.NextRelease(group)
		if err != nil {
			return released, err
		}

		if next == nil {
			break
		}

		if err := h.output.Write(next); err != nil {
			return released, fmt.Errorf("failed to write envelope %s: %w", next.GetID(), err)
		}

		group, err = h.store.MarkMessageFromGroup(key, next)
		if err != nil {
			return released, err
		}

		released++
		h.releasedMsgs.Add(1)
	}

	seqSize := group.GetSequenceSize()
	if seqSize > 0 && seqSize != store.UnboundedSequenceSize && len(group.GetMarked()) >= seqSize {
		h.tel.LogDebug("sequence completed", "group_id", key, "sequence_size", seqSize)
		h.store.RemoveMessageGroup(key)
	}

	return released, nil
}

// releaseGroup writes the whole group in sequence order and removes it.
func (h *Handler) releaseGroup(key any, group store.Group) (int, error) {
	canRelease, err := h.strategy.CanRelease(group)
	if err != nil || !canRelease {
		return 0, err
	}

	unmarked := group.GetUnmarked()
	slices.SortStableFunc(unmarked, h.comparator())

	released := 0
	for _, env := range unmarked {
		if err := h.output.Write(env); err != nil {
			return released, fmt.Errorf("failed to write envelope %s: %w", env.GetID(), err)
		}

		// Marking keeps a failed group from being written twice.
		if _, err := h.store.MarkMessageFromGroup(key, env); err != nil {
			return released, err
		}

		released++
		h.releasedMsgs.Add(1)
	}

	h.store.RemoveMessageGroup(key)

	return released, nil
}

func (h *Handler) comparator() release.Comparator {
	if partial, ok := h.strategy.(release.PartialStrategy); ok {
		return partial.GetComparator()
	}

	return release.SequenceNumberComparator("")
}

// onExpiry writes the unreleased envelopes of an expired group
// to the output or to the discard output, then removes the group.
func (h *Handler) onExpiry(st store.Store, expired store.Group) {
	key := expired.GetGroupID()

	unlock := h.keyLocks.Lock(key)
	defer unlock()

	// The group may have been released since the sweep.
	group := st.GetMessageGroup(key)
	if group.Size() == 0 {
		st.RemoveMessageGroup(key)
		return
	}

	// An envelope arrived after the sweep, so the group is no longer idle.
	if group.GetLastModified().After(expired.GetLastModified()) {
		h.tel.LogDebug("skipping expiry of modified group", "group_id", key)
		return
	}

	unmarked := group.GetUnmarked()
	slices.SortStableFunc(unmarked, h.comparator())

	output := h.discardOutput
	if h.cfg.SendPartialResultOnExpiry {
		output = h.output
	}

	for _, env := range unmarked {
		if err := output.Write(env); err != nil {
			h.tel.LogError("failed to write expired envelope", err, "group_id", key, "envelope_id", env.GetID())
			continue
		}

		if h.cfg.SendPartialResultOnExpiry {
			h.releasedMsgs.Add(1)
		} else {
			h.discardedMsgs.Add(1)
		}
	}

	st.RemoveMessageGroup(key)
	h.expiredGroups.Add(1)

	h.tel.LogDebug("expired group", "group_id", key, "size", group.Size(), "unreleased", len(unmarked))
}

// GetReceivedMessages returns the number of envelopes received.
func (h *Handler) GetReceivedMessages() int64 {
	return h.receivedMsgs.Load()
}

// GetReleasedMessages returns the number of envelopes written to the output.
func (h *Handler) GetReleasedMessages() int64 {
	return h.releasedMsgs.Load()
}

// GetExpiredGroups returns the number of expired groups.
func (h *Handler) GetExpiredGroups() int64 {
	return h.expiredGroups.Load()
}

// GetDiscardedMessages returns the number of envelopes sent to the discard output.
func (h *Handler) GetDiscardedMessages() int64 {
	return h.discardedMsgs.Load()
}
