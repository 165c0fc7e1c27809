package release

import (
	"fmt"

	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/message"
	"github.com/FerroO2000/gruppo/store"
)

var _ PartialStrategy = (*UnboundedStrategy)(nil)

// UnboundedStrategy releases the envelopes of a sequence of unknown size,
// one at a time and in sequence order.
// It expects the group to hold at most the last released envelope as marked,
// which is what a [store.UnboundedStore] guarantees.
type UnboundedStrategy struct {
	tel *internal.Telemetry

	reader     sequenceReader
	comparator Comparator
}

// NewUnboundedStrategy returns a new unbounded strategy.
func NewUnboundedStrategy() *UnboundedStrategy {
	return &UnboundedStrategy{
		tel: internal.NewTelemetry("release", "unbounded"),

		reader:     newSequenceReader(""),
		comparator: SequenceNumberComparator(""),
	}
}

// SetComparator sets the comparator used to sort the unmarked envelopes.
func (s *UnboundedStrategy) SetComparator(cmp Comparator) {
	if cmp == nil {
		return
	}

	s.comparator = cmp
}

// SetSequenceHeader sets the header holding the sequence number.
// It also sets a comparator reading that header.
func (s *UnboundedStrategy) SetSequenceHeader(header string) {
	s.reader = newSequenceReader(header)
	s.comparator = SequenceNumberComparator(header)
}

// SetReleasePartialSequences returns [ErrPartialReleaseRequired]
// if asked to disable partial releases.
func (s *UnboundedStrategy) SetReleasePartialSequences(enabled bool) error {
	if !enabled {
		return fmt.Errorf("unbounded strategy: %w", ErrPartialReleaseRequired)
	}

	return nil
}

// ReleasesPartialSequences always returns true.
func (s *UnboundedStrategy) ReleasesPartialSequences() bool {
	return true
}

// GetComparator returns the comparator used to sort the unmarked envelopes.
func (s *UnboundedStrategy) GetComparator() Comparator {
	return s.comparator
}

// GetSequenceSize always returns [store.UnboundedSequenceSize].
func (s *UnboundedStrategy) GetSequenceSize() int {
	return store.UnboundedSequenceSize
}

// CanRelease states whether the next envelope of the group can be released.
func (s *UnboundedStrategy) CanRelease(group store.Group) (bool, error) {
	next, err := s.NextRelease(group)
	return next != nil, err
}

// NextRelease returns the envelope that directly follows the marked one,
// or nil if it has not arrived yet.
func (s *UnboundedStrategy) NextRelease(group store.Group) (*message.Envelope, error) {
	return evaluatePartial(group, s.reader, s.comparator, s.CanReleasePartial)
}

// CanReleasePartial states whether the first sorted envelope
// directly follows the marked one. With nothing marked,
// only the first envelope of the sequence can be released.
func (s *UnboundedStrategy) CanReleasePartial(group store.Group, sorted []*message.Envelope) (bool, error) {
	if len(sorted) == 0 {
		return false, nil
	}

	tail, err := s.reader.read(sorted[0])
	if err != nil {
		return false, err
	}

	marked := group.GetMarked()
	if len(marked) == 0 {
		return tail == 1, nil
	}

	last, err := s.reader.read(marked[0])
	if err != nil {
		return false, err
	}

	if tail != last+1 {
		return false, nil
	}

	s.tel.LogDebug("release imminent", "group_id", group.GetGroupID(), "sequence_number", tail)

	return true, nil
}
