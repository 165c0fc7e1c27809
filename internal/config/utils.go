package config

// integer covers the counts and durations found in the configurations.
type integer interface {
	~int | ~int64
}

// CheckNotNegative resets a negative value to the fallback
// and reports the anomaly.
func CheckNotNegative[T integer](ac *AnomalyCollector, field string, actual *T, fallback T) {
	if val := *actual; val < 0 {
		ac.add(field, "cannot be negative", val, fallback)
		*actual = fallback
	}
}

// CheckNotZero resets a zero value to the fallback and reports the anomaly.
func CheckNotZero[T integer](ac *AnomalyCollector, field string, actual *T, fallback T) {
	if val := *actual; val == 0 {
		ac.add(field, "cannot be zero", val, fallback)
		*actual = fallback
	}
}

// CheckNotEmpty resets an empty string to the fallback and reports the anomaly.
func CheckNotEmpty(ac *AnomalyCollector, field string, actual *string, fallback string) {
	if *actual == "" {
		ac.add(field, "cannot be empty", *actual, fallback)
		*actual = fallback
	}
}
