package store

import (
	"time"

	"github.com/FerroO2000/gruppo/internal/config"
)

// Default configuration values for the simple store.
const (
	DefaultGroupCapacity = 0
)

// Config is the configuration of the [SimpleStore].
type Config struct {
	// GroupCapacity is the maximum number of envelopes held by a group.
	// Zero means no limit.
	//
	// Default: 0
	GroupCapacity int

	// Clock returns the current time. It is used for the group timestamps
	// and for expiring the groups.
	//
	// Default: time.Now
	Clock func() time.Time
}

// NewConfig returns the default configuration of the simple store.
func NewConfig() *Config {
	return &Config{
		GroupCapacity: DefaultGroupCapacity,
		Clock:         time.Now,
	}
}

// Validate checks the configuration.
func (c *Config) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "GroupCapacity", &c.GroupCapacity, DefaultGroupCapacity)

	if c.Clock == nil {
		c.Clock = time.Now
	}
}
