package store

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/internal/lock"
	"github.com/FerroO2000/gruppo/message"
)

var _ Group = (*unboundedGroup)(nil)

// unboundedGroup wraps the group of the delegate store
// and counts the envelopes pruned from it.
type unboundedGroup struct {
	mu       sync.RWMutex
	delegate Group
	removed  int
}

func newUnboundedGroup(delegate Group, removed int) *unboundedGroup {
	return &unboundedGroup{
		delegate: delegate,
		removed:  removed,
	}
}

func (ug *unboundedGroup) setDelegate(delegate Group) {
	ug.mu.Lock()
	defer ug.mu.Unlock()

	ug.delegate = delegate
}

// fold replaces the delegate with the one returned by a pruning removal
// and accounts for the removed envelope in the same step,
// so the size never goes down.
func (ug *unboundedGroup) fold(delegate Group) {
	ug.mu.Lock()
	defer ug.mu.Unlock()

	ug.delegate = delegate
	ug.removed++
}

func (ug *unboundedGroup) getDelegate() Group {
	ug.mu.RLock()
	defer ug.mu.RUnlock()

	return ug.delegate
}

// GetRemovedCount returns the number of envelopes pruned from the delegate store.
func (ug *unboundedGroup) GetRemovedCount() int {
	ug.mu.RLock()
	defer ug.mu.RUnlock()

	return ug.removed
}

func (ug *unboundedGroup) GetGroupID() any {
	return ug.getDelegate().GetGroupID()
}

func (ug *unboundedGroup) CanAdd(env *message.Envelope) bool {
	return ug.getDelegate().CanAdd(env)
}

func (ug *unboundedGroup) GetUnmarked() []*message.Envelope {
	return ug.getDelegate().GetUnmarked()
}

func (ug *unboundedGroup) GetMarked() []*message.Envelope {
	return ug.getDelegate().GetMarked()
}

func (ug *unboundedGroup) GetOne() *message.Envelope {
	return ug.getDelegate().GetOne()
}

// Size returns the number of envelopes held by the delegate
// plus the number of pruned ones.
func (ug *unboundedGroup) Size() int {
	ug.mu.RLock()
	defer ug.mu.RUnlock()

	return ug.delegate.Size() + ug.removed
}

func (ug *unboundedGroup) GetTimestamp() time.Time {
	return ug.getDelegate().GetTimestamp()
}

func (ug *unboundedGroup) GetLastModified() time.Time {
	return ug.getDelegate().GetLastModified()
}

// IsComplete always returns false: an unbounded group never completes.
func (ug *unboundedGroup) IsComplete() bool {
	return false
}

// GetSequenceSize always returns [UnboundedSequenceSize].
func (ug *unboundedGroup) GetSequenceSize() int {
	return UnboundedSequenceSize
}

var _ Store = (*UnboundedStore)(nil)

// UnboundedStore is a [Store] for sequences whose size is unknown.
// It wraps a delegate store and keeps, for every correlation key,
// only the last marked envelope: marking an envelope removes every other
// marked envelope from the delegate. The groups it returns still report
// the cumulative size, i.e. pruned envelopes included.
//
// It is meant to be used with a [release.UnboundedStrategy]
// and it assumes the envelopes of a group are marked in sequence order.
//
// Operations on the same key are serialized, operations on different keys
// may run concurrently. The aggregate counters are the ones of the delegate,
// so they do not include the pruned envelopes.
type UnboundedStore struct {
	tel *internal.Telemetry

	delegate Store

	keyLocks *lock.Striped

	mu     sync.RWMutex
	groups map[any]*unboundedGroup

	// Metrics
	prunedMsgs    atomic.Int64
	expiredGroups atomic.Int64
}

// NewUnboundedStore returns a new unbounded store wrapping the delegate.
func NewUnboundedStore(delegate Store) *UnboundedStore {
	us := &UnboundedStore{
		tel: internal.NewTelemetry("store", "unbounded"),

		delegate: delegate,

		keyLocks: lock.NewStriped(lock.DefaultStripes),

		groups: make(map[any]*unboundedGroup),
	}

	us.initMetrics()

	return us
}

func (us *UnboundedStore) initMetrics() {
	us.tel.NewCounter("pruned_messages", func() int64 { return us.prunedMsgs.Load() })
	us.tel.NewCounter("expired_groups", func() int64 { return us.expiredGroups.Load() })

	us.tel.NewUpDownCounter("shadow_groups", func() int64 { return int64(us.shadowCount()) })
}

func (us *UnboundedStore) shadowCount() int {
	us.mu.RLock()
	defer us.mu.RUnlock()

	return len(us.groups)
}

// shadowOf returns the shadow group of the key, refreshed with the given delegate group.
// The caller must hold the lock of the key.
func (us *UnboundedStore) shadowOf(key any, delegate Group) *unboundedGroup {
	us.mu.Lock()
	defer us.mu.Unlock()

	group, ok := us.groups[key]
	if !ok {
		group = newUnboundedGroup(delegate, 0)
		us.groups[key] = group
		return group
	}

	group.setDelegate(delegate)
	return group
}

// GetMessageGroup returns the group of the key.
func (us *UnboundedStore) GetMessageGroup(key any) Group {
	unlock := us.keyLocks.Lock(key)
	defer unlock()

	return us.shadowOf(key, us.delegate.GetMessageGroup(key))
}

// AddMessageToGroup adds the envelope to the delegate store.
func (us *UnboundedStore) AddMessageToGroup(key any, env *message.Envelope) (Group, error) {
	unlock := us.keyLocks.Lock(key)
	defer unlock()

	group, err := us.delegate.AddMessageToGroup(key, env)
	if err != nil {
		return nil, err
	}

	return us.shadowOf(key, group), nil
}

// MarkMessageFromGroup marks the envelope and removes from the delegate store
// every other marked envelope of the group, so only the envelope survives as marked.
// The envelopes of a group must be marked in sequence order:
// marking an envelope older than the last marked one drops the newer one.
// A failed prune is logged and does not undo the mark:
// the envelope is left marked and the next mark of the group prunes it.
func (us *UnboundedStore) MarkMessageFromGroup(key any, env *message.Envelope) (Group, error) {
	unlock := us.keyLocks.Lock(key)
	defer unlock()

	delegate, err := us.delegate.MarkMessageFromGroup(key, env)
	if err != nil {
		return nil, err
	}

	group := us.shadowOf(key, delegate)

	for _, marked := range delegate.GetMarked() {
		if marked.Is(env) {
			continue
		}

		pruned, err := us.delegate.RemoveMessageFromGroup(key, marked)
		if err != nil {
			us.tel.LogWarn("failed to prune marked envelope",
				"group_id", key, "envelope_id", marked.GetID(), "reason", err.Error())
			continue
		}

		group.fold(pruned)
		us.prunedMsgs.Add(1)
	}

	us.tel.LogDebug("marked envelope", "group_id", key, "envelope_id", env.GetID(), "size", group.Size())

	return group, nil
}

// MarkMessageGroup marks all the envelopes of the group, without pruning.
func (us *UnboundedStore) MarkMessageGroup(key any) (Group, error) {
	unlock := us.keyLocks.Lock(key)
	defer unlock()

	us.tel.LogDebug("marking group", "group_id", key)

	delegate, err := us.delegate.MarkMessageGroup(key)
	if err != nil {
		return nil, err
	}

	return us.shadowOf(key, delegate), nil
}

// RemoveMessageFromGroup removes the envelope from the delegate store.
// The removal is not counted by the size of the group.
func (us *UnboundedStore) RemoveMessageFromGroup(key any, env *message.Envelope) (Group, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	unlock := us.keyLocks.Lock(key)
	defer unlock()

	us.tel.LogDebug("removing envelope", "group_id", key, "envelope_id", env.GetID())

	delegate, err := us.delegate.RemoveMessageFromGroup(key, env)
	if err != nil {
		return nil, err
	}

	return us.shadowOf(key, delegate), nil
}

// RemoveMessageGroup removes the group from the delegate store
// together with its removed envelope count.
func (us *UnboundedStore) RemoveMessageGroup(key any) {
	unlock := us.keyLocks.Lock(key)
	defer unlock()

	us.delegate.RemoveMessageGroup(key)

	us.mu.Lock()
	delete(us.groups, key)
	us.mu.Unlock()
}

// RegisterMessageGroupExpiryCallback registers the callback on the delegate store.
// The callback receives this store and a group reporting the cumulative size.
func (us *UnboundedStore) RegisterMessageGroupExpiryCallback(cb ExpiryCallback) {
	if cb == nil {
		return
	}

	us.delegate.RegisterMessageGroupExpiryCallback(func(_ Store, group Group) {
		cb(us, us.expiredView(group))
	})
}

func (us *UnboundedStore) expiredView(delegate Group) Group {
	us.mu.RLock()
	shadow, ok := us.groups[delegate.GetGroupID()]
	us.mu.RUnlock()

	if !ok {
		return newUnboundedGroup(delegate, 0)
	}

	return newUnboundedGroup(delegate, shadow.GetRemovedCount())
}

// ExpireMessageGroups expires the groups of the delegate store.
// If any group expired, the removed envelope counts of the groups
// left empty are dropped.
func (us *UnboundedStore) ExpireMessageGroups(timeout time.Duration) int {
	expired := us.delegate.ExpireMessageGroups(timeout)
	if expired == 0 {
		return 0
	}

	us.expiredGroups.Add(int64(expired))

	us.mu.RLock()
	keys := slices.Collect(maps.Keys(us.groups))
	us.mu.RUnlock()

	dropped := 0
	for _, key := range keys {
		if us.dropIfEmpty(key) {
			dropped++
		}
	}

	us.tel.LogDebug("expired groups", "expired", expired, "dropped_shadows", dropped)

	return expired
}

func (us *UnboundedStore) dropIfEmpty(key any) bool {
	unlock := us.keyLocks.Lock(key)
	defer unlock()

	if us.delegate.GetMessageGroup(key).Size() != 0 {
		return false
	}

	us.mu.Lock()
	defer us.mu.Unlock()

	if _, ok := us.groups[key]; !ok {
		return false
	}

	delete(us.groups, key)
	return true
}

// GetMessageCountForAllMessageGroups returns the number of envelopes
// held by the delegate store.
func (us *UnboundedStore) GetMessageCountForAllMessageGroups() int {
	return us.delegate.GetMessageCountForAllMessageGroups()
}

// GetMarkedMessageCountForAllMessageGroups returns the number of marked envelopes
// held by the delegate store.
func (us *UnboundedStore) GetMarkedMessageCountForAllMessageGroups() int {
	return us.delegate.GetMarkedMessageCountForAllMessageGroups()
}

// GetMessageGroupCount returns the number of groups of the delegate store.
func (us *UnboundedStore) GetMessageGroupCount() int {
	return us.delegate.GetMessageGroupCount()
}
