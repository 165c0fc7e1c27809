package release

import (
	"github.com/FerroO2000/gruppo/internal"
	"github.com/FerroO2000/gruppo/message"
	"github.com/FerroO2000/gruppo/store"
)

var _ PartialStrategy = (*SequenceSizeStrategy)(nil)

// SequenceSizeStrategy releases a group when it holds as many unmarked envelopes
// as its declared sequence size. When partial releases are enabled,
// it releases the envelopes one at a time, as soon as the next one
// in sequence order is available.
type SequenceSizeStrategy struct {
	tel *internal.Telemetry

	releasePartial bool

	reader     sequenceReader
	comparator Comparator
}

// NewSequenceSizeStrategy returns a new sequence size strategy.
func NewSequenceSizeStrategy(releasePartial bool) *SequenceSizeStrategy {
	return &SequenceSizeStrategy{
		tel: internal.NewTelemetry("release", "sequence_size"),

		releasePartial: releasePartial,

		reader:     newSequenceReader(""),
		comparator: SequenceNumberComparator(""),
	}
}

// SetComparator sets the comparator used to sort the unmarked envelopes.
func (s *SequenceSizeStrategy) SetComparator(cmp Comparator) {
	if cmp == nil {
		return
	}

	s.comparator = cmp
}

// SetSequenceHeader sets the header holding the sequence number.
// It also sets a comparator reading that header.
func (s *SequenceSizeStrategy) SetSequenceHeader(header string) {
	s.reader = newSequenceReader(header)
	s.comparator = SequenceNumberComparator(header)
}

// SetReleasePartialSequences enables or disables partial releases.
func (s *SequenceSizeStrategy) SetReleasePartialSequences(enabled bool) error {
	s.releasePartial = enabled
	return nil
}

// ReleasesPartialSequences states whether partial releases are enabled.
func (s *SequenceSizeStrategy) ReleasesPartialSequences() bool {
	return s.releasePartial
}

// GetComparator returns the comparator used to sort the unmarked envelopes.
func (s *SequenceSizeStrategy) GetComparator() Comparator {
	return s.comparator
}

// CanRelease states whether the group can be released.
func (s *SequenceSizeStrategy) CanRelease(group store.Group) (bool, error) {
	if s.releasePartial {
		next, err := s.NextRelease(group)
		return next != nil, err
	}

	unmarked := len(group.GetUnmarked())
	return unmarked > 0 && unmarked == group.GetSequenceSize(), nil
}

// NextRelease returns the envelope that follows the last released one,
// or nil if it has not arrived yet. It works whether partial releases
// are enabled or not.
func (s *SequenceSizeStrategy) NextRelease(group store.Group) (*message.Envelope, error) {
	return evaluatePartial(group, s.reader, s.comparator, s.CanReleasePartial)
}

// CanReleasePartial states whether the first sorted envelope follows
// the last released one.
func (s *SequenceSizeStrategy) CanReleasePartial(group store.Group, sorted []*message.Envelope) (bool, error) {
	if len(sorted) == 0 {
		return false, nil
	}

	tail, err := s.reader.read(sorted[0])
	if err != nil {
		return false, err
	}

	last, err := s.reader.lastMarked(group.GetMarked())
	if err != nil {
		return false, err
	}

	if tail != last+1 {
		return false, nil
	}

	s.tel.LogDebug("release imminent", "group_id", group.GetGroupID(), "sequence_number", tail)

	return true, nil
}
