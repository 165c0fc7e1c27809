package aggregator

import (
	"sync"

	"github.com/FerroO2000/gruppo/message"
)

// Output receives the envelopes released by the [Handler].
type Output interface {
	// Write writes the envelope.
	Write(env *message.Envelope) error
}

// OutputFunc adapts a function to the [Output] interface.
type OutputFunc func(env *message.Envelope) error

// Write calls the function.
func (f OutputFunc) Write(env *message.Envelope) error {
	return f(env)
}

var discardOutput = OutputFunc(func(*message.Envelope) error { return nil })

// CollectOutput is an [Output] that keeps every envelope it receives.
// It is safe for concurrent use.
type CollectOutput struct {
	mu   sync.Mutex
	envs []*message.Envelope
}

// NewCollectOutput returns a new collect output.
func NewCollectOutput() *CollectOutput {
	return &CollectOutput{
		envs: []*message.Envelope{},
	}
}

// Write appends the envelope.
func (co *CollectOutput) Write(env *message.Envelope) error {
	co.mu.Lock()
	defer co.mu.Unlock()

	co.envs = append(co.envs, env)
	return nil
}

// GetEnvelopes returns the collected envelopes, in the order they were written.
func (co *CollectOutput) GetEnvelopes() []*message.Envelope {
	co.mu.Lock()
	defer co.mu.Unlock()

	out := make([]*message.Envelope, len(co.envs))
	copy(out, co.envs)
	return out
}

// Len returns the number of collected envelopes.
func (co *CollectOutput) Len() int {
	co.mu.Lock()
	defer co.mu.Unlock()

	return len(co.envs)
}
