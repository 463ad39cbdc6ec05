package power

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

// =============================================================================
// Battery
// =============================================================================

func TestBattery_IsLow(t *testing.T) {
	b := Battery{LifetimeCycles: 1000, LowThreshold: 0.3}

	tests := []struct {
		cycles uint64
		want   bool
	}{
		{0, false},
		{699, false},
		{700, false}, // remaining 300 is not < 300
		{701, true},
		{1000, true},
		{1500, true},
	}

	for _, tt := range tests {
		if got := b.IsLow(tt.cycles); got != tt.want {
			t.Errorf("IsLow(%d) = %v, want %v", tt.cycles, got, tt.want)
		}
	}
}

func TestBattery_Remaining(t *testing.T) {
	b := Battery{LifetimeCycles: 10}
	if got := b.Remaining(12); got != -2 {
		t.Errorf("Remaining(12) = %d, want -2", got)
	}
}

// =============================================================================
// Sleep config
// =============================================================================

type fixedJitter int

func (f fixedJitter) IntN(n int) int {
	if int(f) >= n {
		return n - 1
	}
	return int(f)
}

func TestNewSleepConfig_Deterministic(t *testing.T) {
	cfg, err := NewSleepConfig(10000, fixedJitter(1234))
	if err != nil {
		t.Fatalf("NewSleepConfig() error = %v", err)
	}
	if cfg.BaseMs != 10000 || cfg.EffectiveMs != 11234 {
		t.Errorf("NewSleepConfig() = %+v, want base 10000 effective 11234", cfg)
	}
	if cfg.Duration() != 11234*time.Millisecond {
		t.Errorf("Duration() = %v", cfg.Duration())
	}
}

func TestNewSleepConfig_Range(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		cfg, err := NewSleepConfig(10000, rng)
		if err != nil {
			t.Fatalf("NewSleepConfig() error = %v", err)
		}
		if cfg.EffectiveMs < 10000 || cfg.EffectiveMs >= 15000 {
			t.Fatalf("EffectiveMs = %d, want [10000, 15000)", cfg.EffectiveMs)
		}
	}
}

func TestNewSleepConfig_UpperBoundExclusive(t *testing.T) {
	cfg, _ := NewSleepConfig(10000, fixedJitter(1<<30))
	if cfg.EffectiveMs != 14999 {
		t.Errorf("EffectiveMs = %d, want 14999", cfg.EffectiveMs)
	}
}

func TestNewSleepConfig_Invalid(t *testing.T) {
	for _, base := range []int{0, -5} {
		if _, err := NewSleepConfig(base, fixedJitter(0)); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("NewSleepConfig(%d) error = %v, want ErrInvalidInterval", base, err)
		}
	}
}

func TestNewSleepConfig_DurationOverflow(t *testing.T) {
	tests := []struct {
		name string
		base int64
	}{
		{"ten trillion ms", 10_000_000_000_000},
		{"max duration ms", MaxIntervalMs},
		{"max int", math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSleepConfig(int(tt.base), fixedJitter(1<<62)); !errors.Is(err, ErrInvalidInterval) {
				t.Errorf("NewSleepConfig(%d) error = %v, want ErrInvalidInterval", tt.base, err)
			}
		})
	}
}

func TestNewSleepConfig_LargestAcceptedIsPositive(t *testing.T) {
	// base + base/2 == MaxIntervalMs when base is two thirds of it.
	base := int(MaxIntervalMs / 3 * 2)
	cfg, err := NewSleepConfig(base, fixedJitter(1<<62))
	if err != nil {
		t.Fatalf("NewSleepConfig(%d) error = %v", base, err)
	}
	if cfg.Duration() <= 0 {
		t.Errorf("Duration() = %v, want positive", cfg.Duration())
	}
}

func TestNewSleepConfig_TinyBaseHasNoJitter(t *testing.T) {
	cfg, err := NewSleepConfig(1, fixedJitter(0))
	if err != nil || cfg.EffectiveMs != 1 {
		t.Errorf("NewSleepConfig(1) = %+v, %v", cfg, err)
	}
}

// =============================================================================
// Cycle manager
// =============================================================================

type fakeTransport struct {
	calls      []string
	suspendErr error
}

func (f *fakeTransport) Suspend(context.Context) error {
	f.calls = append(f.calls, "suspend")
	return f.suspendErr
}

func (f *fakeTransport) Resume(context.Context) error {
	f.calls = append(f.calls, "resume")
	return nil
}

func TestDeepSleep_Sequence(t *testing.T) {
	m := NewCycleManager(Battery{LifetimeCycles: 2, LowThreshold: 0.5})
	tr := &fakeTransport{}

	var sleptFor time.Duration
	m.wait = func(_ context.Context, d time.Duration) error {
		if !m.Sleeping() {
			t.Error("Sleeping() = false during wait")
		}
		if len(tr.calls) != 1 || tr.calls[0] != "suspend" {
			t.Errorf("transport calls during wait = %v, want [suspend]", tr.calls)
		}
		sleptFor = d
		return nil
	}

	if err := m.DeepSleep(context.Background(), tr, 3*time.Second); err != nil {
		t.Fatalf("DeepSleep() error = %v", err)
	}

	if sleptFor != 3*time.Second {
		t.Errorf("slept %v, want 3s", sleptFor)
	}
	if m.Sleeping() {
		t.Error("Sleeping() = true after wake")
	}
	if m.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", m.Cycles())
	}
	if len(tr.calls) != 2 || tr.calls[1] != "resume" {
		t.Errorf("transport calls = %v, want [suspend resume]", tr.calls)
	}
	if m.LowBattery() {
		t.Error("LowBattery() = true after 1 of 2 cycles at threshold 0.5")
	}

	_ = m.DeepSleep(context.Background(), tr, 0)
	if !m.LowBattery() {
		t.Error("LowBattery() = false after 2 of 2 cycles")
	}
}

func TestDeepSleep_CancelledDuringWait(t *testing.T) {
	m := NewCycleManager(Battery{LifetimeCycles: 10, LowThreshold: 0.3})
	tr := &fakeTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.DeepSleep(ctx, tr, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("DeepSleep() error = %v, want context.Canceled", err)
	}
	if m.Cycles() != 0 {
		t.Errorf("Cycles() = %d, want 0", m.Cycles())
	}
	if m.Sleeping() {
		t.Error("Sleeping() = true after cancellation")
	}
	if len(tr.calls) != 1 {
		t.Errorf("transport calls = %v, want only suspend", tr.calls)
	}
}

func TestDeepSleep_SuspendFailure(t *testing.T) {
	m := NewCycleManager(Battery{LifetimeCycles: 10})
	tr := &fakeTransport{suspendErr: errors.New("boom")}

	if err := m.DeepSleep(context.Background(), tr, time.Millisecond); err == nil {
		t.Fatal("DeepSleep() error = nil, want error")
	}
	if m.Cycles() != 0 || m.Sleeping() {
		t.Errorf("Cycles()=%d Sleeping()=%v after failed suspend", m.Cycles(), m.Sleeping())
	}
}
