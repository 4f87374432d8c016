package pool

import "time"

// defaultMultipliers is the cooldown multiplier table applied when the
// configuration does not provide one. Index i applies to a credential whose
// errorCount is i+1; counts beyond the table use the last entry.
var defaultMultipliers = []float64{1, 2, 4, 8, 16}

const (
	// DefaultCooldownBase is the cooldown for a credential that failed once.
	DefaultCooldownBase = 15 * time.Second
	// DefaultCooldownCeiling bounds worst-case credential unavailability.
	DefaultCooldownCeiling = 5 * time.Minute
)

// cooldownFor computes how long a credential with the given error count
// stays unavailable. The result is a monotonically non-decreasing step
// function of errorCount, capped at the ceiling.
func cooldownFor(errorCount int, base time.Duration, multipliers []float64, ceiling time.Duration) time.Duration {
	if errorCount <= 0 {
		return base
	}
	if len(multipliers) == 0 {
		multipliers = defaultMultipliers
	}
	idx := errorCount - 1
	if idx >= len(multipliers) {
		idx = len(multipliers) - 1
	}
	d := time.Duration(float64(base) * multipliers[idx])
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}
