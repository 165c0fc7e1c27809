package store

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/internal/config"
	"github.com/FerroO2000/gruppo/message"
)

var _ Store = (*SimpleStore)(nil)

// SimpleStore is an in-memory [Store].
// The groups it returns are snapshots: every call returns a new group
// that is not affected by later modifications.
type SimpleStore struct {
	tel *internal.Telemetry

	cfg *Config

	mu        sync.RWMutex
	groups    map[any]*simpleGroup
	callbacks []ExpiryCallback

	// Metrics
	addedMsgs     atomic.Int64
	markedMsgs    atomic.Int64
	removedMsgs   atomic.Int64
	expiredGroups atomic.Int64
}

// NewSimpleStore returns a new in-memory store.
// A nil configuration means the default one.
func NewSimpleStore(cfg *Config) *SimpleStore {
	if cfg == nil {
		cfg = NewConfig()
	}

	tel := internal.NewTelemetry("store", "simple")
	config.NewValidator(tel).Validate(cfg)

	s := &SimpleStore{
		tel: tel,

		cfg: cfg,

		groups:    make(map[any]*simpleGroup),
		callbacks: []ExpiryCallback{},
	}

	s.initMetrics()

	return s
}

func (s *SimpleStore) initMetrics() {
	s.tel.NewCounter("added_messages", func() int64 { return s.addedMsgs.Load() })
	s.tel.NewCounter("marked_messages", func() int64 { return s.markedMsgs.Load() })
	s.tel.NewCounter("removed_messages", func() int64 { return s.removedMsgs.Load() })
	s.tel.NewCounter("expired_groups", func() int64 { return s.expiredGroups.Load() })

	s.tel.NewUpDownCounter("groups", func() int64 { return int64(s.GetMessageGroupCount()) })
}

// GetMessageGroup returns a snapshot of the group of the key.
// A missing group is returned empty and it is not created.
func (s *SimpleStore) GetMessageGroup(key any) Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if group, ok := s.groups[key]; ok {
		return group.clone()
	}

	return newEmptyGroup(key)
}

// AddMessageToGroup adds the envelope to the group.
//
// It returns:
//   - [ErrNilMessage] if the envelope is nil
//   - [ErrDuplicateMessage] if the envelope is already in the group
//   - [ErrGroupCapacityExceeded] if the group is full
func (s *SimpleStore) AddMessageToGroup(key any, env *message.Envelope) (Group, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()

	group, ok := s.groups[key]
	if !ok {
		group = newEmptyGroup(key)
		group.timestamp = now
	}

	if group.contains(env) {
		return nil, fmt.Errorf("%w: envelope %s, group %v", ErrDuplicateMessage, env.GetID(), key)
	}

	if s.cfg.GroupCapacity > 0 && group.Size() >= s.cfg.GroupCapacity {
		return nil, fmt.Errorf("%w: group %v holds %d envelopes", ErrGroupCapacityExceeded, key, group.Size())
	}

	group.unmarked = append(group.unmarked, env)
	group.lastModified = now
	s.groups[key] = group

	s.addedMsgs.Add(1)

	return group.clone(), nil
}

// MarkMessageFromGroup marks the envelope.
// It returns [ErrMessageNotFound] if the envelope is not unmarked in the group.
func (s *SimpleStore) MarkMessageFromGroup(key any, env *message.Envelope) (Group, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[key]
	if !ok {
		return nil, fmt.Errorf("%w: envelope %s, group %v", ErrMessageNotFound, env.GetID(), key)
	}

	idx := indexOf(group.unmarked, env)
	if idx < 0 {
		return nil, fmt.Errorf("%w: envelope %s is not unmarked in group %v", ErrMessageNotFound, env.GetID(), key)
	}

	group.unmarked = slices.Delete(group.unmarked, idx, idx+1)
	group.marked = append(group.marked, env)
	group.lastModified = s.cfg.Clock()

	s.markedMsgs.Add(1)

	return group.clone(), nil
}

// MarkMessageGroup marks all the unmarked envelopes of the group.
// It returns [ErrGroupNotFound] if the group does not exist.
func (s *SimpleStore) MarkMessageGroup(key any) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[key]
	if !ok {
		return nil, fmt.Errorf("%w: group %v", ErrGroupNotFound, key)
	}

	s.markedMsgs.Add(int64(len(group.unmarked)))

	group.marked = append(group.marked, group.unmarked...)
	group.unmarked = []*message.Envelope{}
	group.lastModified = s.cfg.Clock()

	return group.clone(), nil
}

// RemoveMessageFromGroup removes the envelope from the group.
// It returns [ErrMessageNotFound] if the envelope is not in the group.
func (s *SimpleStore) RemoveMessageFromGroup(key any, env *message.Envelope) (Group, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[key]
	if !ok {
		return nil, fmt.Errorf("%w: envelope %s, group %v", ErrMessageNotFound, env.GetID(), key)
	}

	if idx := indexOf(group.unmarked, env); idx >= 0 {
		group.unmarked = slices.Delete(group.unmarked, idx, idx+1)
	} else if idx := indexOf(group.marked, env); idx >= 0 {
		group.marked = slices.Delete(group.marked, idx, idx+1)
	} else {
		return nil, fmt.Errorf("%w: envelope %s, group %v", ErrMessageNotFound, env.GetID(), key)
	}

	group.lastModified = s.cfg.Clock()

	s.removedMsgs.Add(1)

	return group.clone(), nil
}

// RemoveMessageGroup removes the group. It is a no-op for a missing group.
func (s *SimpleStore) RemoveMessageGroup(key any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.groups, key)
}

// RegisterMessageGroupExpiryCallback registers the callback.
// The callbacks are invoked in registration order.
func (s *SimpleStore) RegisterMessageGroupExpiryCallback(cb ExpiryCallback) {
	if cb == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.callbacks = append(s.callbacks, cb)
}

// ExpireMessageGroups expires the groups whose last modification is at least
// timeout old, starting from the oldest one.
// The callbacks are called without holding the store lock,
// so they can modify the store.
func (s *SimpleStore) ExpireMessageGroups(timeout time.Duration) int {
	s.mu.RLock()

	now := s.cfg.Clock()

	expired := []*simpleGroup{}
	for _, group := range s.groups {
		if now.Sub(group.lastModified) >= timeout {
			expired = append(expired, group.clone())
		}
	}

	callbacks := slices.Clone(s.callbacks)

	s.mu.RUnlock()

	slices.SortFunc(expired, func(a, b *simpleGroup) int {
		return a.lastModified.Compare(b.lastModified)
	})

	for _, group := range expired {
		s.tel.LogDebug("expiring group", "group_id", group.groupID, "size", group.Size())

		for _, cb := range callbacks {
			cb(s, group)
		}
	}

	s.expiredGroups.Add(int64(len(expired)))

	return len(expired)
}

// GetMessageCountForAllMessageGroups returns the number of envelopes in all the groups.
func (s *SimpleStore) GetMessageCountForAllMessageGroups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, group := range s.groups {
		count += group.Size()
	}
	return count
}

// GetMarkedMessageCountForAllMessageGroups returns the number of marked envelopes in all the groups.
func (s *SimpleStore) GetMarkedMessageCountForAllMessageGroups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, group := range s.groups {
		count += len(group.marked)
	}
	return count
}

// GetMessageGroupCount returns the number of groups.
func (s *SimpleStore) GetMessageGroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.groups)
}
