// Package message contains the envelope grouped and released by the stores.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is an immutable payload with its headers.
// Two envelopes are the same envelope when they have the same ID.
type Envelope struct {
	id        uuid.UUID
	payload   any
	headers   Headers
	timestamp time.Time
}

// Option customizes an envelope while it is built.
type Option func(*Envelope)

// WithID sets the ID of the envelope. By default a random UUID is used.
func WithID(id uuid.UUID) Option {
	return func(e *Envelope) {
		e.id = id
	}
}

// WithHeader sets a header.
func WithHeader(name string, value any) Option {
	return func(e *Envelope) {
		e.headers[name] = value
	}
}

// WithHeaders sets all the given headers.
func WithHeaders(headers Headers) Option {
	return func(e *Envelope) {
		for name, value := range headers {
			e.headers[name] = value
		}
	}
}

// WithCorrelationID sets the [HeaderCorrelationID] header.
func WithCorrelationID(correlationID any) Option {
	return WithHeader(HeaderCorrelationID, correlationID)
}

// WithSequenceNumber sets the [HeaderSequenceNumber] header.
func WithSequenceNumber(sequenceNumber int) Option {
	return WithHeader(HeaderSequenceNumber, sequenceNumber)
}

// WithSequenceSize sets the [HeaderSequenceSize] header.
func WithSequenceSize(sequenceSize int) Option {
	return WithHeader(HeaderSequenceSize, sequenceSize)
}

// WithTimestamp sets the creation time of the envelope.
func WithTimestamp(timestamp time.Time) Option {
	return func(e *Envelope) {
		e.timestamp = timestamp
	}
}

// New returns a new envelope with the given payload.
func New(payload any, opts ...Option) *Envelope {
	e := &Envelope{
		id:        uuid.New(),
		payload:   payload,
		headers:   Headers{},
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// GetID returns the ID of the envelope.
func (e *Envelope) GetID() uuid.UUID {
	return e.id
}

// GetPayload returns the payload of the envelope.
func (e *Envelope) GetPayload() any {
	return e.payload
}

// GetTimestamp returns the creation time of the envelope.
func (e *Envelope) GetTimestamp() time.Time {
	return e.timestamp
}

// GetHeaders returns a copy of the headers.
func (e *Envelope) GetHeaders() Headers {
	return e.headers.Clone()
}

// GetHeader returns the value of a header and whether it is present.
func (e *Envelope) GetHeader(name string) (any, bool) {
	return e.headers.Get(name)
}

// GetIntHeader returns the value of a header as an int.
// The first boolean states whether the header is present,
// the second one whether its value is an integer.
func (e *Envelope) GetIntHeader(name string) (value int, present, isInt bool) {
	return e.headers.GetInt(name)
}

// GetCorrelationID returns the value of the [HeaderCorrelationID] header,
// nil if missing.
func (e *Envelope) GetCorrelationID() any {
	return e.headers[HeaderCorrelationID]
}

// GetSequenceNumber returns the value of the [HeaderSequenceNumber] header.
// It returns false if the header is missing or it is not an integer.
func (e *Envelope) GetSequenceNumber() (int, bool) {
	seqNum, _, ok := e.headers.GetInt(HeaderSequenceNumber)
	return seqNum, ok
}

// GetSequenceSize returns the value of the [HeaderSequenceSize] header,
// 0 if missing or not an integer.
func (e *Envelope) GetSequenceSize() int {
	seqSize, _, _ := e.headers.GetInt(HeaderSequenceSize)
	return seqSize
}

// Is states whether the two envelopes are the same envelope.
func (e *Envelope) Is(other *Envelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.id == other.id
}
