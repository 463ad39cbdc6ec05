package power

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Transport is the connection that is torn down for the duration of a sleep.
type Transport interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// CycleManager drives the sleep/wake boundary and counts completed cycles.
// It is safe for concurrent use; readers such as the health endpoint see the
// sleeping flag and counter without taking the device locks.
type CycleManager struct {
	battery  Battery
	cycles   atomic.Uint64
	sleeping atomic.Bool

	// wait is replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewCycleManager returns a manager with a zero cycle counter.
func NewCycleManager(b Battery) *CycleManager {
	return &CycleManager{battery: b, wait: waitContext}
}

// Battery returns the static battery parameters.
func (m *CycleManager) Battery() Battery { return m.battery }

// Cycles returns the number of completed sleep cycles.
func (m *CycleManager) Cycles() uint64 { return m.cycles.Load() }

// Sleeping reports whether a deep sleep is in progress.
func (m *CycleManager) Sleeping() bool { return m.sleeping.Load() }

// LowBattery evaluates the battery model against the current counter.
func (m *CycleManager) LowBattery() bool { return m.battery.IsLow(m.cycles.Load()) }

// DeepSleep suspends the transport, waits d, counts the cycle and resumes
// the transport.
//
// Only ctx cancellation cuts the wait short. In that case the cycle is not
// counted and the transport stays suspended, so a terminating process never
// leaves a half-open connection behind.
func (m *CycleManager) DeepSleep(ctx context.Context, t Transport, d time.Duration) error {
	m.sleeping.Store(true)

	if err := t.Suspend(ctx); err != nil {
		m.sleeping.Store(false)
		return fmt.Errorf("suspending transport: %w", err)
	}

	if err := m.wait(ctx, d); err != nil {
		m.sleeping.Store(false)
		return err
	}

	m.sleeping.Store(false)
	m.cycles.Add(1)

	if err := t.Resume(ctx); err != nil {
		return fmt.Errorf("resuming transport: %w", err)
	}
	return nil
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
