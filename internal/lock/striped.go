// Package lock implements per-key locking over comparable keys.
package lock

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is the default number of stripes.
const DefaultStripes = 64

// Striped maps every key to one of a fixed set of mutexes.
// Two different keys may share a stripe, the same key always gets the same one.
type Striped struct {
	stripes []sync.Mutex
}

// NewStriped returns a new striped lock with the given number of stripes.
// A non-positive count falls back to [DefaultStripes].
func NewStriped(stripes int) *Striped {
	if stripes <= 0 {
		stripes = DefaultStripes
	}

	return &Striped{
		stripes: make([]sync.Mutex, stripes),
	}
}

// Lock locks the stripe of the key and returns the function that unlocks it.
// The key must be comparable, like the keys of the stores it guards.
func (s *Striped) Lock(key any) (unlock func()) {
	mu := s.stripeOf(key)
	mu.Lock()
	return mu.Unlock
}

func (s *Striped) stripeOf(key any) *sync.Mutex {
	return &s.stripes[hashKey(key)%uint64(len(s.stripes))]
}

func hashKey(key any) uint64 {
	switch k := key.(type) {
	case string:
		return xxhash.Sum64String(k)
	case int:
		return hashUint(uint64(k))
	case int64:
		return hashUint(uint64(k))
	case uint64:
		return hashUint(k)
	case fmt.Stringer:
		return xxhash.Sum64String(k.String())
	default:
		return xxhash.Sum64String(fmt.Sprintf("%T:%v", key, key))
	}
}

func hashUint(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}
