package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
)

// Status is the state of one device process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

const (
	defaultRestartDelay = 5 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

// ProcessConfig describes one device process.
type ProcessConfig struct {
	// Device is the device name, passed to the child as DEVICE_NAME.
	Device string

	Binary string
	Args   []string

	// Env is appended to the parent environment. Later entries win.
	Env []string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	RestartOnFailure bool
	RestartDelay     time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration
}

// Process supervises one device process: it restarts the child after a
// crash and stops the whole process group on Stop.
type Process struct {
	cfg    ProcessConfig
	logger *logging.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	restarts int
	lastErr  error
	started  time.Time
	stopping bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewProcess returns a supervisor for cfg. Nothing runs until Start.
func NewProcess(cfg ProcessConfig, logger *logging.Logger) *Process {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Process{
		cfg:    cfg,
		logger: logger.With("component", "fleet", "device", cfg.Device),
		status: StatusStopped,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the child and its supervisor goroutine. A Process can be
// started once.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cmd != nil || p.stopping || p.status == StatusFailed {
		p.mu.Unlock()
		return fmt.Errorf("device %s already started", p.cfg.Device)
	}
	err := p.spawnLocked()
	p.mu.Unlock()

	if err != nil {
		close(p.done)
		return err
	}

	go p.supervise(ctx)
	return nil
}

// spawnLocked starts the child in its own process group. p.mu must be held.
func (p *Process) spawnLocked() error {
	cmd := exec.Command(p.cfg.Binary, p.cfg.Args...) //nolint:gosec // Binary comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), "DEVICE_NAME="+p.cfg.Device)
	cmd.Env = append(cmd.Env, p.cfg.Env...)
	cmd.Stdout = p.cfg.Stdout
	cmd.Stderr = p.cfg.Stderr

	if err := cmd.Start(); err != nil {
		p.status = StatusFailed
		p.lastErr = err
		return fmt.Errorf("starting device %s: %w", p.cfg.Device, err)
	}

	p.cmd = cmd
	p.status = StatusRunning
	p.started = time.Now()
	p.logger.Info("device process started", "pid", cmd.Process.Pid, "binary", p.cfg.Binary)
	return nil
}

// supervise waits for the child and restarts it per policy until Stop is
// called, ctx is cancelled or the policy gives up.
func (p *Process) supervise(ctx context.Context) {
	defer close(p.done)

	for {
		p.mu.Lock()
		cmd := p.cmd
		p.mu.Unlock()

		err := cmd.Wait()

		p.mu.Lock()
		if p.stopping {
			p.status = StatusStopped
			p.mu.Unlock()
			p.logger.Info("device process stopped")
			return
		}
		if err == nil {
			p.status = StatusStopped
			p.mu.Unlock()
			p.logger.Info("device process exited")
			return
		}

		p.status = StatusFailed
		p.lastErr = err
		attempt := p.restarts + 1
		p.mu.Unlock()

		p.logger.Warn("device process exited unexpectedly", "error", err)

		if !p.cfg.RestartOnFailure {
			return
		}
		if p.cfg.MaxRestartAttempts > 0 && attempt > p.cfg.MaxRestartAttempts {
			p.logger.Error("max restart attempts reached", "attempts", attempt-1)
			return
		}

		p.logger.Info("restarting device process", "attempt", attempt, "delay", p.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-time.After(p.cfg.RestartDelay):
		}

		p.mu.Lock()
		if p.stopping {
			p.mu.Unlock()
			return
		}
		p.restarts = attempt
		err = p.spawnLocked()
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("restart failed", "error", err)
			return
		}
	}
}

// Stop sends SIGTERM to the child's process group and waits for it to exit,
// escalating to SIGKILL after the stop timeout. Stop is safe to call more
// than once and on a process that was never started.
func (p *Process) Stop() error {
	p.mu.Lock()
	p.stopping = true
	var pid int
	if p.cmd != nil && p.status == StatusRunning {
		pid = p.cmd.Process.Pid
	}
	started := p.cmd != nil
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })

	if !started {
		return nil
	}
	if pid == 0 {
		<-p.done
		return nil
	}

	p.logger.Info("stopping device process", "pid", pid)
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		p.logger.Warn("sending SIGTERM", "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("stop timeout, sending SIGKILL", "timeout", p.cfg.StopTimeout)
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing device %s: %w", p.cfg.Device, err)
	}
	<-p.done
	return nil
}

// signalGroup signals the process group led by pid. An already exited group
// is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Done is closed once the supervisor has exited and will not restart the
// child again.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Device returns the device name.
func (p *Process) Device() string { return p.cfg.Device }

// ProcessStats is a point-in-time view of one device process.
type ProcessStats struct {
	Device    string        `json:"device"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns the current process statistics.
func (p *Process) Stats() ProcessStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := ProcessStats{
		Device:   p.cfg.Device,
		Status:   p.status,
		Restarts: p.restarts,
	}
	if p.status == StatusRunning && p.cmd != nil {
		stats.PID = p.cmd.Process.Pid
		stats.Uptime = time.Since(p.started)
	}
	if p.lastErr != nil {
		stats.LastError = p.lastErr.Error()
	}
	return stats
}
