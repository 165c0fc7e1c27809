// Package release contains the strategies that decide when the envelopes
// of a group can leave the store.
package release

import (
	"errors"
	"fmt"
	"slices"

	"github.com/FerroO2000/gruppo/message"
	"github.com/FerroO2000/gruppo/store"
)

var (
	// ErrPartialReleaseRequired is returned when partial releases are disabled
	// on a strategy that only works with them.
	ErrPartialReleaseRequired = errors.New("partial sequence release is required")
	// ErrInvalidSequenceHeader is returned when the sequence header
	// holds a value that is not an integer.
	ErrInvalidSequenceHeader = errors.New("invalid sequence header")
	// ErrMissingSequenceNumber is returned when an envelope has no sequence number.
	ErrMissingSequenceNumber = errors.New("missing sequence number")
)

// Strategy decides whether a group can be released.
type Strategy interface {
	// CanRelease states whether the group, or a part of it, can be released.
	CanRelease(group store.Group) (bool, error)
}

// PartialStrategy is a [Strategy] that releases the envelopes of a group
// one at a time, in sequence order.
type PartialStrategy interface {
	Strategy

	// CanReleasePartial states whether the first of the sorted unmarked envelopes
	// of the group can be released.
	CanReleasePartial(group store.Group, sorted []*message.Envelope) (bool, error)

	// ReleasesPartialSequences states whether partial releases are enabled.
	ReleasesPartialSequences() bool

	// GetComparator returns the comparator that defines the sequence order.
	GetComparator() Comparator

	// NextRelease returns the envelope of the group to release next,
	// or nil if none can be released yet.
	NextRelease(group store.Group) (*message.Envelope, error)
}

// Comparator compares two envelopes, like [slices.SortFunc] expects.
type Comparator func(a, b *message.Envelope) int

// SequenceNumberComparator returns a comparator that orders the envelopes
// by the integer value of the given header, ascending.
// An empty header means the standard sequence number header.
// Envelopes without a valid value are sorted as if it was zero.
func SequenceNumberComparator(header string) Comparator {
	reader := newSequenceReader(header)

	return func(a, b *message.Envelope) int {
		seqA, _ := reader.read(a)
		seqB, _ := reader.read(b)
		return seqA - seqB
	}
}

type sequenceReader struct {
	header string
}

func newSequenceReader(header string) sequenceReader {
	if header == "" {
		header = message.HeaderSequenceNumber
	}

	return sequenceReader{header: header}
}

func (sr sequenceReader) read(env *message.Envelope) (int, error) {
	seqNum, present, isInt := env.GetIntHeader(sr.header)
	if !present {
		return 0, fmt.Errorf("envelope %s, header %q: %w", env.GetID(), sr.header, ErrMissingSequenceNumber)
	}

	if !isInt {
		return 0, fmt.Errorf("envelope %s, header %q: %w", env.GetID(), sr.header, ErrInvalidSequenceHeader)
	}

	return seqNum, nil
}

// lastMarked returns the highest sequence number among the marked envelopes.
func (sr sequenceReader) lastMarked(marked []*message.Envelope) (int, error) {
	last := 0
	for _, env := range marked {
		seqNum, err := sr.read(env)
		if err != nil {
			return 0, err
		}

		last = max(last, seqNum)
	}

	return last, nil
}

type partialFunc func(group store.Group, sorted []*message.Envelope) (bool, error)

// evaluatePartial validates the sequence numbers of the unmarked envelopes,
// sorts the pending ones and hands them to the partial check.
// It returns the envelope to release next, or nil.
func evaluatePartial(group store.Group, reader sequenceReader, cmp Comparator, partial partialFunc) (*message.Envelope, error) {
	unmarked := group.GetUnmarked()
	if len(unmarked) == 0 {
		return nil, nil
	}

	last, err := reader.lastMarked(group.GetMarked())
	if err != nil {
		return nil, err
	}

	pending := make([]*message.Envelope, 0, len(unmarked))
	for _, env := range unmarked {
		seqNum, err := reader.read(env)
		if err != nil {
			return nil, err
		}

		// Copies of an already released position stay in the group
		// until it expires, but never hold back the next one.
		if seqNum <= last {
			continue
		}

		pending = append(pending, env)
	}

	if len(pending) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(pending, cmp)

	canRelease, err := partial(group, pending)
	if err != nil || !canRelease {
		return nil, err
	}

	return pending[0], nil
}
