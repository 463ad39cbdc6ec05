package power

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInterval is returned for a sleep interval that is not positive
// or whose jittered value does not fit in a time.Duration.
var ErrInvalidInterval = errors.New("power: invalid sleep interval")

// MaxIntervalMs is the largest effective interval a time.Duration can hold.
const MaxIntervalMs int64 = math.MaxInt64 / int64(time.Millisecond)

// Jitter is the random source for the sleep offset. *rand.Rand from
// math/rand/v2 satisfies it.
type Jitter interface {
	// IntN returns a value in [0, n). n is always > 0.
	IntN(n int) int
}

// SleepConfig is the configured base interval and the effective interval
// derived from it. The effective interval is fixed until the next SET.
type SleepConfig struct {
	BaseMs      int
	EffectiveMs int
}

// NewSleepConfig draws the jitter once: effective = base + [0, base/2).
func NewSleepConfig(baseMs int, j Jitter) (SleepConfig, error) {
	if baseMs <= 0 {
		return SleepConfig{}, fmt.Errorf("%w: %d is not positive", ErrInvalidInterval, baseMs)
	}
	// base + base/2 must fit in a time.Duration.
	if base, half := int64(baseMs), int64(baseMs/2); base > MaxIntervalMs-half {
		return SleepConfig{}, fmt.Errorf("%w: %d ms exceeds %d ms with jitter", ErrInvalidInterval, baseMs, MaxIntervalMs)
	}
	cfg := SleepConfig{BaseMs: baseMs, EffectiveMs: baseMs}
	if half := baseMs / 2; half > 0 && j != nil {
		cfg.EffectiveMs += j.IntN(half)
	}
	return cfg, nil
}

// Duration returns the effective interval.
func (c SleepConfig) Duration() time.Duration {
	return time.Duration(c.EffectiveMs) * time.Millisecond
}
