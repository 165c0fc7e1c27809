package message

import (
	"maps"
	"math"
)

// Standard header names.
const (
	// HeaderCorrelationID holds the correlation key of the envelope.
	HeaderCorrelationID = "correlation_id"
	// HeaderSequenceNumber holds the 1-based position of the envelope
	// within its sequence.
	HeaderSequenceNumber = "sequence_number"
	// HeaderSequenceSize holds the expected number of envelopes of the sequence.
	HeaderSequenceSize = "sequence_size"
)

// Headers is the map of the headers of an envelope.
type Headers map[string]any

// Clone returns a shallow copy of the headers.
func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	return maps.Clone(h)
}

// Get returns the value of the header and whether it is present.
func (h Headers) Get(name string) (any, bool) {
	val, ok := h[name]
	return val, ok
}

// GetInt returns the header as an int.
// The first boolean states whether the header is present,
// the second one whether its value is an integer.
func (h Headers) GetInt(name string) (value int, present, isInt bool) {
	raw, ok := h[name]
	if !ok {
		return 0, false, false
	}

	switch v := raw.(type) {
	case int:
		return v, true, true
	case int8:
		return int(v), true, true
	case int16:
		return int(v), true, true
	case int32:
		return int(v), true, true
	case int64:
		return int(v), true, true
	case uint8:
		return int(v), true, true
	case uint16:
		return int(v), true, true
	case uint32:
		return int(v), true, true
	case uint:
		if v > math.MaxInt {
			return 0, true, false
		}
		return int(v), true, true
	case uint64:
		if v > math.MaxInt {
			return 0, true, false
		}
		return int(v), true, true
	default:
		return 0, true, false
	}
}
