package config

import (
	"github.com/FerroO2000/gruppo/internal"
)

// Validator validates a configuration and logs every anomaly as a warning.
type Validator struct {
	tel *internal.Telemetry

	anomalyCollector *AnomalyCollector
}

// NewValidator returns a new validator.
func NewValidator(tel *internal.Telemetry) *Validator {
	return &Validator{
		tel: tel,

		anomalyCollector: NewAnomalyCollector(),
	}
}

// Validate validates the given configuration
// and returns the number of anomalies found.
func (v *Validator) Validate(cfg Config) int {
	ac := NewAnomalyCollector()
	cfg.Validate(ac)

	for an := range ac.iter() {
		v.handleAnomaly(an)
	}

	v.anomalyCollector.anomalies = append(v.anomalyCollector.anomalies, ac.anomalies...)

	return ac.Len()
}

func (v *Validator) handleAnomaly(an *anomaly) {
	v.tel.LogWarn("config anomaly",
		"field", an.field, "reason", an.reason,
		"actual", an.actual, "fallback", an.fallback)
}
