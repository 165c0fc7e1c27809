// Package store contains the message group stores.
//
// A store keeps the envelopes sharing a correlation key in a [Group],
// split into unmarked and marked (already released) envelopes.
// [SimpleStore] is the in-memory store, [UnboundedStore] decorates any store
// for sequences that never complete.
package store

import (
	"errors"
	"time"

	"github.com/FerroO2000/gruppo/message"
)

var (
	// ErrNilMessage is returned when a nil envelope is given to a store.
	ErrNilMessage = errors.New("nil envelope")
	// ErrDuplicateMessage is returned when the envelope is already in the group.
	ErrDuplicateMessage = errors.New("envelope already in group")
	// ErrMessageNotFound is returned when the envelope is not in the expected partition of the group.
	ErrMessageNotFound = errors.New("envelope not found in group")
	// ErrGroupNotFound is returned when the group does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrGroupCapacityExceeded is returned when the group cannot hold more envelopes.
	ErrGroupCapacityExceeded = errors.New("group capacity exceeded")
)

// ExpiryCallback is called once for every group expired by a sweep.
// What happens to the group (e.g. its removal) is up to the callback.
type ExpiryCallback func(s Store, group Group)

// Store defines the methods of a message group store.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetMessageGroup returns the group of the key.
	// If the group does not exist, an empty group is returned.
	GetMessageGroup(key any) Group

	// AddMessageToGroup adds the envelope to the unmarked envelopes of the group,
	// creating the group if needed.
	AddMessageToGroup(key any, env *message.Envelope) (Group, error)

	// MarkMessageFromGroup moves the envelope from the unmarked to the marked envelopes.
	MarkMessageFromGroup(key any, env *message.Envelope) (Group, error)

	// MarkMessageGroup marks all the unmarked envelopes of the group.
	MarkMessageGroup(key any) (Group, error)

	// RemoveMessageFromGroup removes the envelope from the group, marked or not.
	RemoveMessageFromGroup(key any, env *message.Envelope) (Group, error)

	// RemoveMessageGroup removes the whole group.
	RemoveMessageGroup(key any)

	// RegisterMessageGroupExpiryCallback registers a callback
	// invoked by [Store.ExpireMessageGroups].
	RegisterMessageGroupExpiryCallback(cb ExpiryCallback)

	// ExpireMessageGroups calls the registered callbacks for every group
	// not modified for at least the timeout and returns the number of expired groups.
	ExpireMessageGroups(timeout time.Duration) int

	// GetMessageCountForAllMessageGroups returns the number of envelopes in all the groups.
	GetMessageCountForAllMessageGroups() int

	// GetMarkedMessageCountForAllMessageGroups returns the number of marked envelopes in all the groups.
	GetMarkedMessageCountForAllMessageGroups() int

	// GetMessageGroupCount returns the number of groups.
	GetMessageGroupCount() int
}
