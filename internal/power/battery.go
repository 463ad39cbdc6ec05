// Package power models the sensor's sleep/wake cycle and the battery drain
// that follows from it.
//
// The battery is not physically simulated. Each completed sleep counts as one
// cycle, and the battery is considered low once the remaining cycles fall
// below a fraction of the configured lifetime.
package power

// Battery holds the static battery parameters.
type Battery struct {
	// LifetimeCycles is the number of cycles a full battery lasts.
	LifetimeCycles int

	// LowThreshold is the remaining-capacity fraction below which the
	// battery reports low.
	LowThreshold float64
}

// Remaining returns the cycles left after cycles completed cycles. It can go
// negative once the nominal lifetime is exceeded.
func (b Battery) Remaining(cycles uint64) int64 {
	return int64(b.LifetimeCycles) - int64(cycles)
}

// IsLow reports (lifetime - cycles) < lifetime * threshold.
func (b Battery) IsLow(cycles uint64) bool {
	return float64(b.Remaining(cycles)) < float64(b.LifetimeCycles)*b.LowThreshold
}
