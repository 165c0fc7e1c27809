package store

import (
	"math"
	"slices"
	"time"

	"github.com/FerroO2000/gruppo/message"
)

// UnboundedSequenceSize is the sequence size reported by groups
// that never complete.
const UnboundedSequenceSize = math.MaxInt

// Group is a read-only view of the envelopes sharing a correlation key.
// Every envelope is either unmarked or marked.
// The slices returned by the group belong to the caller.
type Group interface {
	// GetGroupID returns the correlation key of the group.
	GetGroupID() any

	// CanAdd states whether the envelope can be added to the group.
	CanAdd(env *message.Envelope) bool

	// GetUnmarked returns the envelopes not released yet.
	GetUnmarked() []*message.Envelope

	// GetMarked returns the released envelopes still held by the group.
	GetMarked() []*message.Envelope

	// GetOne returns an envelope of the group, nil if the group is empty.
	GetOne() *message.Envelope

	// Size returns the number of envelopes of the group.
	Size() int

	// GetTimestamp returns the creation time of the group.
	GetTimestamp() time.Time

	// GetLastModified returns the last time the group was modified.
	GetLastModified() time.Time

	// IsComplete states whether all the envelopes of the sequence have been received.
	IsComplete() bool

	// GetSequenceSize returns the declared size of the sequence, 0 if unknown.
	GetSequenceSize() int
}

var _ Group = (*simpleGroup)(nil)

// simpleGroup is a snapshot of a group held by the simple store.
type simpleGroup struct {
	groupID any

	unmarked []*message.Envelope
	marked   []*message.Envelope

	timestamp    time.Time
	lastModified time.Time
}

func newEmptyGroup(groupID any) *simpleGroup {
	return &simpleGroup{
		groupID: groupID,

		unmarked: []*message.Envelope{},
		marked:   []*message.Envelope{},
	}
}

func (sg *simpleGroup) clone() *simpleGroup {
	return &simpleGroup{
		groupID: sg.groupID,

		unmarked: slices.Clone(sg.unmarked),
		marked:   slices.Clone(sg.marked),

		timestamp:    sg.timestamp,
		lastModified: sg.lastModified,
	}
}

func (sg *simpleGroup) contains(env *message.Envelope) bool {
	return indexOf(sg.unmarked, env) >= 0 || indexOf(sg.marked, env) >= 0
}

func (sg *simpleGroup) GetGroupID() any {
	return sg.groupID
}

func (sg *simpleGroup) CanAdd(env *message.Envelope) bool {
	return env != nil && !sg.contains(env)
}

func (sg *simpleGroup) GetUnmarked() []*message.Envelope {
	return slices.Clone(sg.unmarked)
}

func (sg *simpleGroup) GetMarked() []*message.Envelope {
	return slices.Clone(sg.marked)
}

func (sg *simpleGroup) GetOne() *message.Envelope {
	if len(sg.unmarked) > 0 {
		return sg.unmarked[0]
	}
	if len(sg.marked) > 0 {
		return sg.marked[0]
	}
	return nil
}

func (sg *simpleGroup) Size() int {
	return len(sg.unmarked) + len(sg.marked)
}

func (sg *simpleGroup) GetTimestamp() time.Time {
	return sg.timestamp
}

func (sg *simpleGroup) GetLastModified() time.Time {
	return sg.lastModified
}

func (sg *simpleGroup) IsComplete() bool {
	seqSize := sg.GetSequenceSize()
	return seqSize > 0 && sg.Size() >= seqSize
}

func (sg *simpleGroup) GetSequenceSize() int {
	one := sg.GetOne()
	if one == nil {
		return 0
	}
	return one.GetSequenceSize()
}

func indexOf(envs []*message.Envelope, env *message.Envelope) int {
	return slices.IndexFunc(envs, env.Is)
}
