package aggregator

import (
	"time"

	"github.com/FerroO2000/gruppo/internal/config"
	"github.com/FerroO2000/gruppo/message"
)

// Default values for the handler configuration.
const (
	DefaultCorrelationHeader         = message.HeaderCorrelationID
	DefaultGroupTimeout              = time.Duration(0)
	DefaultExpiryInterval            = time.Second
	DefaultSendPartialResultOnExpiry = false
)

// Config is the configuration of the [Handler].
type Config struct {
	// CorrelationHeader is the header holding the correlation key of an envelope.
	//
	// Default: "correlation_id"
	CorrelationHeader string

	// GroupTimeout is the time a group can stay untouched before it expires.
	// Zero means that groups never expire.
	//
	// Default: 0
	GroupTimeout time.Duration

	// ExpiryInterval is the time between two checks for expired groups.
	//
	// Default: 1s
	ExpiryInterval time.Duration

	// SendPartialResultOnExpiry states whether the envelopes
	// of an expired group are written to the output.
	// Otherwise, they go to the discard output.
	//
	// Default: false
	SendPartialResultOnExpiry bool
}

// NewConfig returns the default configuration of the handler.
func NewConfig() *Config {
	return &Config{
		CorrelationHeader:         DefaultCorrelationHeader,
		GroupTimeout:              DefaultGroupTimeout,
		ExpiryInterval:            DefaultExpiryInterval,
		SendPartialResultOnExpiry: DefaultSendPartialResultOnExpiry,
	}
}

// Validate checks the configuration.
func (c *Config) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "CorrelationHeader", &c.CorrelationHeader, DefaultCorrelationHeader)

	config.CheckNotNegative(ac, "GroupTimeout", &c.GroupTimeout, DefaultGroupTimeout)

	config.CheckNotNegative(ac, "ExpiryInterval", &c.ExpiryInterval, DefaultExpiryInterval)
	config.CheckNotZero(ac, "ExpiryInterval", &c.ExpiryInterval, DefaultExpiryInterval)
}
