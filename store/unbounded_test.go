package store

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/FerroO2000/gruppo/message"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

type unboundedFixture struct {
	store *UnboundedStore

	msg1, msg2, msg3, msg4, msg5 *message.Envelope
}

// newUnboundedFixture returns a store with two groups:
// "1" with sequence numbers 1 and 2, "2" with sequence numbers 1, 2, and 3.
func newUnboundedFixture(t *testing.T) *unboundedFixture {
	t.Helper()

	f := &unboundedFixture{
		store: NewUnboundedStore(NewSimpleStore(nil)),

		msg1: newTestEnvelope("1", 1),
		msg2: newTestEnvelope("1", 2),
		msg3: newTestEnvelope("2", 1),
		msg4: newTestEnvelope("2", 2),
		msg5: newTestEnvelope("2", 3),
	}

	for key, envs := range map[string][]*message.Envelope{
		"1": {f.msg1, f.msg2},
		"2": {f.msg3, f.msg4, f.msg5},
	} {
		for _, env := range envs {
			if _, err := f.store.AddMessageToGroup(key, env); err != nil {
				t.Fatalf("failed to add envelope: %v", err)
			}
		}
	}

	return f
}

func Test_UnboundedStoreCounts(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	assert.Equal(5, f.store.GetMessageCountForAllMessageGroups())
	assert.Equal(2, f.store.GetMessageGroupCount())

	_, err := f.store.MarkMessageFromGroup("1", f.msg1)
	assert.NoError(err)
	_, err = f.store.MarkMessageFromGroup("2", f.msg3)
	assert.NoError(err)

	assert.Equal(2, f.store.GetMarkedMessageCountForAllMessageGroups())
}

func Test_UnboundedStoreGetMessageGroup(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	group := f.store.GetMessageGroup("1")
	assert.Equal(2, group.Size())
	assert.Equal("1", group.GetGroupID())
	assert.False(group.IsComplete())
	assert.Equal(UnboundedSequenceSize, group.GetSequenceSize())
}

func Test_UnboundedStoreMarkPrunes(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	_, err := f.store.MarkMessageFromGroup("2", f.msg3)
	assert.NoError(err)

	group, err := f.store.MarkMessageFromGroup("2", f.msg4)
	assert.NoError(err)

	assert.Equal(3, group.Size())
	assert.Len(group.GetMarked(), 1)
	assert.True(group.GetMarked()[0].Is(f.msg4))

	group = f.store.GetMessageGroup("2")
	assert.Equal(3, group.Size())
	assert.Len(group.GetMarked(), 1)
	assert.Equal(1, group.(*unboundedGroup).GetRemovedCount())

	// The delegate only holds the survivor and the unmarked envelope.
	assert.Equal(4, f.store.GetMessageCountForAllMessageGroups())
}

func Test_UnboundedStoreSizeNeverDecreases(t *testing.T) {
	assert := assert.New(t)

	s := NewUnboundedStore(NewSimpleStore(nil))

	envs := make([]*message.Envelope, 0, 5)
	for seqNum := 1; seqNum <= 5; seqNum++ {
		env := newTestEnvelope("A", seqNum)
		envs = append(envs, env)

		_, err := s.AddMessageToGroup("A", env)
		assert.NoError(err)
	}

	for idx, env := range envs {
		group, err := s.MarkMessageFromGroup("A", env)
		assert.NoError(err)
		assert.Equal(5, group.Size())
		assert.Len(group.GetMarked(), 1)
		assert.Equal(idx, group.(*unboundedGroup).GetRemovedCount())
	}

	assert.Equal(5, s.GetMessageGroup("A").Size())
	assert.Equal(1, s.GetMessageCountForAllMessageGroups())
}

func Test_UnboundedStoreRemoveMessageFromGroup(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	_, err := f.store.RemoveMessageFromGroup("1", f.msg1)
	assert.NoError(err)
	assert.Equal(1, f.store.GetMessageGroup("1").Size())

	_, err = f.store.RemoveMessageFromGroup("1", f.msg1)
	assert.ErrorIs(err, ErrMessageNotFound)

	_, err = f.store.RemoveMessageFromGroup("1", nil)
	assert.ErrorIs(err, ErrNilMessage)
}

func Test_UnboundedStoreMarkErrors(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	_, err := f.store.MarkMessageFromGroup("1", f.msg3)
	assert.ErrorIs(err, ErrMessageNotFound)

	_, err = f.store.MarkMessageFromGroup("1", f.msg1)
	assert.NoError(err)

	_, err = f.store.MarkMessageFromGroup("1", f.msg1)
	assert.ErrorIs(err, ErrMessageNotFound)

	assert.Equal(2, f.store.GetMessageGroup("1").Size())
}

var errRemovalFailed = errors.New("removal failed")

// flakyStore fails the first removals of envelopes.
type flakyStore struct {
	*SimpleStore

	failRemovals atomic.Int64
}

func (fs *flakyStore) RemoveMessageFromGroup(key any, env *message.Envelope) (Group, error) {
	if fs.failRemovals.Add(-1) >= 0 {
		return nil, errRemovalFailed
	}

	return fs.SimpleStore.RemoveMessageFromGroup(key, env)
}

func Test_UnboundedStoreMarkPruneFailure(t *testing.T) {
	assert := assert.New(t)

	delegate := &flakyStore{SimpleStore: NewSimpleStore(nil)}
	us := NewUnboundedStore(delegate)

	msg1 := newTestEnvelope("A", 1)
	msg2 := newTestEnvelope("A", 2)
	msg3 := newTestEnvelope("A", 3)

	for _, env := range []*message.Envelope{msg1, msg2, msg3} {
		_, err := us.AddMessageToGroup("A", env)
		assert.NoError(err)
	}

	_, err := us.MarkMessageFromGroup("A", msg1)
	assert.NoError(err)

	// The mark is applied even if msg1 cannot be pruned.
	delegate.failRemovals.Store(1)
	group, err := us.MarkMessageFromGroup("A", msg2)
	assert.NoError(err)
	assert.Len(group.GetMarked(), 2)
	assert.Equal(3, group.Size())

	_, err = us.MarkMessageFromGroup("A", msg2)
	assert.ErrorIs(err, ErrMessageNotFound)

	// The next mark prunes both.
	group, err = us.MarkMessageFromGroup("A", msg3)
	assert.NoError(err)
	if assert.Len(group.GetMarked(), 1) {
		assert.True(group.GetMarked()[0].Is(msg3))
	}
	assert.Empty(group.GetUnmarked())
	assert.Equal(3, group.Size())
}

func Test_UnboundedStoreMarkMessageGroup(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	group, err := f.store.MarkMessageGroup("2")
	assert.NoError(err)

	// Marking the whole group does not prune.
	assert.Len(group.GetMarked(), 3)
	assert.Equal(3, group.Size())
	assert.Equal(3, f.store.GetMarkedMessageCountForAllMessageGroups())

	_, err = f.store.MarkMessageGroup("missing")
	assert.ErrorIs(err, ErrGroupNotFound)
}

func Test_UnboundedStoreRemoveMessageGroup(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	_, err := f.store.MarkMessageFromGroup("1", f.msg1)
	assert.NoError(err)
	_, err = f.store.MarkMessageFromGroup("1", f.msg2)
	assert.NoError(err)

	f.store.RemoveMessageGroup("1")
	assert.Equal(3, f.store.GetMessageCountForAllMessageGroups())
	assert.Equal(1, f.store.GetMessageGroupCount())

	// The removed count does not survive the group.
	_, err = f.store.AddMessageToGroup("1", newTestEnvelope("1", 1))
	assert.NoError(err)
	assert.Equal(1, f.store.GetMessageGroup("1").Size())
}

func Test_UnboundedStoreExpiryCallback(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	_, err := f.store.MarkMessageFromGroup("2", f.msg3)
	assert.NoError(err)
	_, err = f.store.MarkMessageFromGroup("2", f.msg4)
	assert.NoError(err)

	var callbackCalled atomic.Int64
	expired := map[any]int{}
	f.store.RegisterMessageGroupExpiryCallback(func(st Store, group Group) {
		assert.Same(f.store, st)

		expired[group.GetGroupID()] = group.Size()
		callbackCalled.Add(1)
	})

	assert.Equal(2, f.store.ExpireMessageGroups(0))
	assert.Equal(int64(2), callbackCalled.Load())

	// The expired group reports the cumulative size.
	assert.Equal(map[any]int{"1": 2, "2": 3}, expired)

	// Nothing was removed, so the shadows survive.
	assert.Equal(2, f.store.shadowCount())
	assert.Equal(3, f.store.GetMessageGroup("2").Size())
}

func Test_UnboundedStoreExpireRemoves(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	f.store.RegisterMessageGroupExpiryCallback(func(st Store, group Group) {
		st.RemoveMessageGroup(group.GetGroupID())
	})

	assert.Equal(2, f.store.ExpireMessageGroups(0))
	assert.Equal(0, f.store.GetMessageCountForAllMessageGroups())
	assert.Equal(0, f.store.GetMessageGroupCount())
	assert.Equal(0, f.store.shadowCount())
}

func Test_UnboundedStoreExpireDropsEmptyShadows(t *testing.T) {
	assert := assert.New(t)

	delegate := NewSimpleStore(nil)
	s := NewUnboundedStore(delegate)

	env := newTestEnvelope("A", 1)
	_, _ = s.AddMessageToGroup("A", env)
	_, _ = s.AddMessageToGroup("B", newTestEnvelope("B", 1))

	// Only reading a key creates its shadow.
	s.GetMessageGroup("C")
	assert.Equal(3, s.shadowCount())

	// The callback empties "A" through the delegate, leaving its group registered.
	delegate.RegisterMessageGroupExpiryCallback(func(st Store, group Group) {
		if group.GetGroupID() == "A" {
			_, err := st.RemoveMessageFromGroup("A", env)
			assert.NoError(err)
		}
	})

	assert.Equal(2, s.ExpireMessageGroups(0))
	assert.Equal(1, s.shadowCount())
	assert.Equal(2, s.GetMessageGroupCount())
}

func Test_UnboundedStoreNoExpiryNoSweep(t *testing.T) {
	assert := assert.New(t)

	s := NewUnboundedStore(NewSimpleStore(nil))

	s.GetMessageGroup("A")
	assert.Equal(0, s.ExpireMessageGroups(0))
	assert.Equal(1, s.shadowCount())
}

func Test_UnboundedStoreIdempotentGet(t *testing.T) {
	assert := assert.New(t)

	f := newUnboundedFixture(t)

	_, err := f.store.MarkMessageFromGroup("2", f.msg3)
	assert.NoError(err)
	_, err = f.store.MarkMessageFromGroup("2", f.msg4)
	assert.NoError(err)

	ids := func(envs []*message.Envelope) []uuid.UUID {
		out := make([]uuid.UUID, 0, len(envs))
		for _, env := range envs {
			out = append(out, env.GetID())
		}
		return out
	}

	first := f.store.GetMessageGroup("2")
	firstSize, firstMarked := first.Size(), ids(first.GetMarked())

	second := f.store.GetMessageGroup("2")

	assert.Same(first, second)
	assert.Equal(firstSize, second.Size())
	if diff := cmp.Diff(firstMarked, ids(second.GetMarked())); diff != "" {
		t.Errorf("marked envelopes mismatch (-first +second):\n%s", diff)
	}
}

func Test_UnboundedStoreConcurrentMarks(t *testing.T) {
	assert := assert.New(t)

	s := NewUnboundedStore(NewSimpleStore(nil))

	const keys = 8
	const envsPerKey = 50

	envs := make(map[string][]*message.Envelope, keys)
	for k := range keys {
		key := fmt.Sprintf("key-%d", k)
		for seqNum := 1; seqNum <= envsPerKey; seqNum++ {
			env := newTestEnvelope(key, seqNum)
			envs[key] = append(envs[key], env)

			_, err := s.AddMessageToGroup(key, env)
			assert.NoError(err)
		}
	}

	g := &errgroup.Group{}

	// Two goroutines per key race to mark the same envelopes.
	for key, keyEnvs := range envs {
		for range 2 {
			g.Go(func() error {
				for _, env := range keyEnvs {
					_, _ = s.MarkMessageFromGroup(key, env)
					s.GetMessageGroup(key)
				}
				return nil
			})
		}
	}

	assert.NoError(g.Wait())

	for key := range envs {
		group := s.GetMessageGroup(key)
		assert.Equal(envsPerKey, group.Size())
		assert.Len(group.GetMarked(), 1)
		assert.Empty(group.GetUnmarked())
	}

	assert.Equal(keys, s.GetMarkedMessageCountForAllMessageGroups())
	assert.Equal(keys, s.GetMessageCountForAllMessageGroups())
}

func Benchmark_UnboundedStoreAddMark(b *testing.B) {
	s := NewUnboundedStore(NewSimpleStore(nil))

	seqNum := 0
	for b.Loop() {
		seqNum++
		env := newTestEnvelope("bench", seqNum)

		_, _ = s.AddMessageToGroup("bench", env)
		_, _ = s.MarkMessageFromGroup("bench", env)
	}
}
