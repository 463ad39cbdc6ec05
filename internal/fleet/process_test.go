package fleet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shellProcess(script string) ProcessConfig {
	return ProcessConfig{
		Device:       "ESP32_000001",
		Binary:       "/bin/sh",
		Args:         []string{"-c", script},
		RestartDelay: time.Millisecond,
		StopTimeout:  5 * time.Second,
	}
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process supervisor did not finish")
	}
}

func waitFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

// =============================================================================
// Process
// =============================================================================

func TestProcess_PassesDeviceName(t *testing.T) {
	cfg := shellProcess(`[ "$DEVICE_NAME" = "ESP32_000001" ] && [ "$EXTRA" = "yes" ]`)
	cfg.Env = []string{"EXTRA=yes"}
	p := NewProcess(cfg, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	stats := p.Stats()
	if stats.Status != StatusStopped || stats.LastError != "" {
		t.Errorf("Stats() = %+v, want clean exit", stats)
	}
}

func TestProcess_RestartsUntilLimit(t *testing.T) {
	cfg := shellProcess("exit 3")
	cfg.RestartOnFailure = true
	cfg.MaxRestartAttempts = 2
	p := NewProcess(cfg, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	stats := p.Stats()
	if stats.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", stats.Restarts)
	}
	if stats.Status != StatusFailed || !strings.Contains(stats.LastError, "exit status 3") {
		t.Errorf("Stats() = %+v, want failed with exit status 3", stats)
	}
}

func TestProcess_NoRestartWhenDisabled(t *testing.T) {
	p := NewProcess(shellProcess("exit 1"), nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	if got := p.Stats().Restarts; got != 0 {
		t.Errorf("Restarts = %d, want 0", got)
	}
}

func TestProcess_StopTerminates(t *testing.T) {
	p := NewProcess(shellProcess("exec sleep 30"), nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p.Stats().PID == 0 {
		t.Error("PID = 0 while running")
	}

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, want prompt SIGTERM exit", elapsed)
	}
	if got := p.Stats().Status; got != StatusStopped {
		t.Errorf("Status = %s, want stopped", got)
	}

	// Stopping twice is harmless.
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestProcess_StopKillsAfterTimeout(t *testing.T) {
	ready := filepath.Join(t.TempDir(), "ready")
	cfg := shellProcess(`trap '' TERM; touch "$READY"; while :; do sleep 0.05; done`)
	cfg.Env = []string{"READY=" + ready}
	cfg.StopTimeout = 100 * time.Millisecond
	p := NewProcess(cfg, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFile(t, ready)

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.StopTimeout {
		t.Errorf("Stop() returned after %v, want at least the stop timeout", elapsed)
	}
	if got := p.Stats().Status; got != StatusStopped {
		t.Errorf("Status = %s, want stopped", got)
	}
}

func TestProcess_StopDuringRestartDelay(t *testing.T) {
	cfg := shellProcess("exit 1")
	cfg.RestartOnFailure = true
	cfg.RestartDelay = time.Hour
	p := NewProcess(cfg, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Status != StatusFailed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitDone(t, p)
}

func TestProcess_StartFailure(t *testing.T) {
	cfg := shellProcess("")
	cfg.Binary = filepath.Join(t.TempDir(), "missing")
	p := NewProcess(cfg, nil)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil for a missing binary")
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestProcess_StopBeforeStart(t *testing.T) {
	p := NewProcess(shellProcess("true"), nil)
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

// =============================================================================
// Fleet
// =============================================================================

func fleetConfig(script string) config.FleetConfig {
	return config.FleetConfig{
		Binary:             "/bin/sh",
		Args:               []string{"-c", script},
		StopTimeoutSeconds: 5,
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(fleetConfig("true"), nil, nil, nil); err != ErrNoDevices {
		t.Errorf("New(no devices) error = %v, want ErrNoDevices", err)
	}
	if _, err := New(fleetConfig("true"), []string{"bad/name"}, nil, nil); err == nil {
		t.Error("New(invalid name) error = nil")
	}
}

func TestFleet_StatusPorts(t *testing.T) {
	dir := t.TempDir()
	cfg := fleetConfig(`echo "$ESN_STATUS_LISTEN" > "$OUT_DIR/$DEVICE_NAME"`)
	cfg.StatusPortBase = 9200
	t.Setenv("OUT_DIR", dir)

	devices := []string{"ESP32_000001", "ESP32_000002"}
	f, err := New(cfg, devices, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Every child exits on its own, so Run returns without cancellation.
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, name := range devices {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("reading %s output: %v", name, err)
		}
		want := "127.0.0.1:" + []string{"9200", "9201"}[i]
		if got := strings.TrimSpace(string(data)); got != want {
			t.Errorf("%s ESN_STATUS_LISTEN = %q, want %q", name, got, want)
		}
	}
}

func TestFleet_RunStopsOnCancel(t *testing.T) {
	f, err := New(fleetConfig("exec sleep 30"), []string{"ESP32_000001", "ESP32_000002", "ESP32_000003"}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		running := 0
		for _, s := range f.Stats() {
			if s.Status == StatusRunning {
				running++
			}
		}
		if running == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	for _, s := range f.Stats() {
		if s.Status != StatusStopped {
			t.Errorf("%s status = %s, want stopped", s.Device, s.Status)
		}
	}
}
