package release

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/FerroO2000/gruppo/message"
	"github.com/FerroO2000/gruppo/store"
	"github.com/stretchr/testify/assert"
)

// releaser mimics the loop of a resequencing handler:
// it releases the smallest unmarked envelope while the strategy allows it.
type releaser struct {
	t *testing.T

	store    store.Store
	strategy PartialStrategy

	released []int
}

func newUnboundedReleaser(t *testing.T) *releaser {
	t.Helper()

	return &releaser{
		t:        t,
		store:    store.NewUnboundedStore(store.NewSimpleStore(nil)),
		strategy: NewUnboundedStrategy(),
	}
}

func (r *releaser) send(env *message.Envelope) error {
	r.t.Helper()

	group, err := r.store.AddMessageToGroup("A", env)
	if err != nil {
		r.t.Fatalf("failed to add envelope: %v", err)
	}

	for {
		next, err := r.strategy.NextRelease(group)
		if err != nil {
			return err
		}

		ok, err := r.strategy.CanRelease(group)
		if err != nil {
			return err
		}
		if ok != (next != nil) {
			r.t.Fatalf("CanRelease is %t with next envelope %v", ok, next)
		}
		if !ok {
			return nil
		}

		group, err = r.store.MarkMessageFromGroup("A", next)
		if err != nil {
			r.t.Fatalf("failed to mark envelope: %v", err)
		}

		// Payloads carry the position of the envelope in the sequence.
		r.released = append(r.released, next.GetPayload().(int))
	}
}

func (r *releaser) sendSeq(seqNum int) {
	r.t.Helper()

	if err := r.send(message.New(seqNum, message.WithSequenceNumber(seqNum))); err != nil {
		r.t.Fatalf("failed to send envelope: %v", err)
	}
}

func Test_UnboundedStrategyInOrder(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	r.sendSeq(1)
	assert.Equal([]int{1}, r.released)

	r.sendSeq(2)
	assert.Equal([]int{1, 2}, r.released)
}

func Test_UnboundedStrategyGaps(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	r.sendSeq(1)
	assert.Equal([]int{1}, r.released)

	r.sendSeq(3)
	assert.Equal([]int{1}, r.released)

	r.sendSeq(2)
	assert.Equal([]int{1, 2, 3}, r.released)

	r.sendSeq(5)
	assert.Equal([]int{1, 2, 3}, r.released)

	group := r.store.GetMessageGroup("A")
	assert.Equal(4, group.Size())
	assert.Len(group.GetMarked(), 1)
	assert.Len(group.GetUnmarked(), 1)
}

func Test_UnboundedStrategyFirstMissing(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	r.sendSeq(2)
	r.sendSeq(3)
	assert.Empty(r.released)

	r.sendSeq(1)
	assert.Equal([]int{1, 2, 3}, r.released)
}

func Test_UnboundedStrategyDuplicateSequenceNumber(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	r.sendSeq(1)
	r.sendSeq(2)
	r.sendSeq(2)
	assert.Equal([]int{1, 2}, r.released)

	group := r.store.GetMessageGroup("A")
	assert.Len(group.GetUnmarked(), 1)

	// The copy is kept, but the sequence goes on.
	r.sendSeq(3)
	assert.Equal([]int{1, 2, 3}, r.released)

	group = r.store.GetMessageGroup("A")
	unmarked := group.GetUnmarked()
	if assert.Len(unmarked, 1) {
		seqNum, _ := unmarked[0].GetSequenceNumber()
		assert.Equal(2, seqNum)
	}
	assert.Equal(4, group.Size())
}

func Test_UnboundedStrategyDuplicateBeforeRelease(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	first := message.New(2, message.WithSequenceNumber(2))
	assert.NoError(r.send(first))
	r.sendSeq(2)
	r.sendSeq(1)
	assert.Equal([]int{1, 2}, r.released)

	// The envelope that arrived first is the one released.
	group := r.store.GetMessageGroup("A")
	if assert.Len(group.GetMarked(), 1) {
		assert.True(group.GetMarked()[0].Is(first))
	}
	assert.Len(group.GetUnmarked(), 1)

	r.sendSeq(3)
	assert.Equal([]int{1, 2, 3}, r.released)
}

func Test_UnboundedStrategyPermutations(t *testing.T) {
	assert := assert.New(t)

	rng := rand.New(rand.NewPCG(42, 1024))

	const n = 20
	expected := make([]int, 0, n)
	for seqNum := 1; seqNum <= n; seqNum++ {
		expected = append(expected, seqNum)
	}

	for range 50 {
		r := newUnboundedReleaser(t)

		perm := rng.Perm(n)
		for _, idx := range perm {
			r.sendSeq(idx + 1)

			// Whatever arrived so far, releases are a prefix of the sequence.
			assert.Equal(expected[:len(r.released)], r.released)
		}

		assert.Equal(expected, r.released)
		assert.Equal(n, r.store.GetMessageGroup("A").Size())
		assert.Equal(1, r.store.GetMessageCountForAllMessageGroups())
	}
}

func Test_UnboundedStrategyCustomHeader(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	strategy := NewUnboundedStrategy()
	strategy.SetSequenceHeader("position")
	r.strategy = strategy

	positions := []int{}
	for _, pos := range []int{2, 1, 4, 3} {
		env := message.New(pos, message.WithHeader("position", pos))
		assert.NoError(r.send(env))

		positions = append(positions, len(r.store.GetMessageGroup("A").GetUnmarked()))
	}

	assert.Equal([]int{1, 2, 3, 4}, r.released)
	assert.Equal([]int{1, 0, 1, 0}, positions)
}

func Test_UnboundedStrategyInvalidHeader(t *testing.T) {
	assert := assert.New(t)

	r := newUnboundedReleaser(t)

	err := r.send(message.New("x", message.WithHeader(message.HeaderSequenceNumber, "one")))
	assert.ErrorIs(err, ErrInvalidSequenceHeader)

	r = newUnboundedReleaser(t)

	err = r.send(message.New("x"))
	assert.ErrorIs(err, ErrMissingSequenceNumber)
}

func Test_UnboundedStrategyPartialRequired(t *testing.T) {
	assert := assert.New(t)

	strategy := NewUnboundedStrategy()

	assert.ErrorIs(strategy.SetReleasePartialSequences(false), ErrPartialReleaseRequired)
	assert.NoError(strategy.SetReleasePartialSequences(true))
	assert.True(strategy.ReleasesPartialSequences())
	assert.Equal(store.UnboundedSequenceSize, strategy.GetSequenceSize())
}

func Test_UnboundedStrategyEmptyGroup(t *testing.T) {
	assert := assert.New(t)

	s := store.NewUnboundedStore(store.NewSimpleStore(nil))

	ok, err := NewUnboundedStrategy().CanRelease(s.GetMessageGroup("A"))
	assert.NoError(err)
	assert.False(ok)
}

func Test_SequenceSizeStrategyFull(t *testing.T) {
	assert := assert.New(t)

	s := store.NewSimpleStore(nil)
	strategy := NewSequenceSizeStrategy(false)

	ok, err := strategy.CanRelease(s.GetMessageGroup("A"))
	assert.NoError(err)
	assert.False(ok)

	var group store.Group
	for seqNum := range 3 {
		env := message.New(seqNum+1, message.WithSequenceNumber(seqNum+1), message.WithSequenceSize(3))
		group, err = s.AddMessageToGroup("A", env)
		assert.NoError(err)

		ok, err = strategy.CanRelease(group)
		assert.NoError(err)
		assert.Equal(seqNum == 2, ok)
	}

	assert.True(group.IsComplete())
}

func Test_SequenceSizeStrategyPartial(t *testing.T) {
	assert := assert.New(t)

	r := &releaser{
		t:        t,
		store:    store.NewSimpleStore(nil),
		strategy: NewSequenceSizeStrategy(true),
	}

	r.sendSeq(2)
	assert.Empty(r.released)

	r.sendSeq(1)
	assert.Equal([]int{1, 2}, r.released)

	r.sendSeq(4)
	assert.Equal([]int{1, 2}, r.released)

	r.sendSeq(3)
	assert.Equal([]int{1, 2, 3, 4}, r.released)

	// The plain store keeps every released envelope as marked.
	assert.Len(r.store.GetMessageGroup("A").GetMarked(), 4)
}

func Test_SequenceSizeStrategyPartialDuplicate(t *testing.T) {
	assert := assert.New(t)

	r := &releaser{
		t:        t,
		store:    store.NewSimpleStore(nil),
		strategy: NewSequenceSizeStrategy(true),
	}

	r.sendSeq(1)
	r.sendSeq(2)
	r.sendSeq(1)
	r.sendSeq(3)
	assert.Equal([]int{1, 2, 3}, r.released)

	group := r.store.GetMessageGroup("A")
	assert.Len(group.GetMarked(), 3)
	assert.Len(group.GetUnmarked(), 1)
}

func Test_SequenceSizeStrategySetters(t *testing.T) {
	assert := assert.New(t)

	strategy := NewSequenceSizeStrategy(false)
	assert.False(strategy.ReleasesPartialSequences())

	assert.NoError(strategy.SetReleasePartialSequences(true))
	assert.True(strategy.ReleasesPartialSequences())

	cmp := strategy.GetComparator()
	strategy.SetComparator(nil)
	assert.NotNil(strategy.GetComparator())

	reversed := func(a, b *message.Envelope) int { return -cmp(a, b) }
	strategy.SetComparator(reversed)

	envs := []*message.Envelope{
		message.New(1, message.WithSequenceNumber(1)),
		message.New(2, message.WithSequenceNumber(2)),
	}
	slices.SortFunc(envs, strategy.GetComparator())

	seqNum, _ := envs[0].GetSequenceNumber()
	assert.Equal(2, seqNum)
}

func Test_SequenceNumberComparator(t *testing.T) {
	assert := assert.New(t)

	envs := []*message.Envelope{
		message.New("c", message.WithHeader("seq", 3)),
		message.New("a", message.WithHeader("seq", int64(1))),
		message.New("b", message.WithHeader("seq", uint8(2))),
	}

	slices.SortFunc(envs, SequenceNumberComparator("seq"))

	payloads := []any{}
	for _, env := range envs {
		payloads = append(payloads, env.GetPayload())
	}

	assert.Equal([]any{"a", "b", "c"}, payloads)
}

func Benchmark_UnboundedStrategyCanRelease(b *testing.B) {
	s := store.NewUnboundedStore(store.NewSimpleStore(nil))
	strategy := NewUnboundedStrategy()

	for seqNum := 2; seqNum <= 64; seqNum++ {
		_, _ = s.AddMessageToGroup("A", message.New(seqNum, message.WithSequenceNumber(seqNum)))
	}

	group := s.GetMessageGroup("A")

	for b.Loop() {
		_, _ = strategy.CanRelease(group)
	}
}
