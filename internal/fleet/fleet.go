package fleet

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/config"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
)

// statusHost is the interface each child's status server binds to.
const statusHost = "127.0.0.1"

// Fleet runs one device process per name.
type Fleet struct {
	procs  []*Process
	logger *logging.Logger
}

// New builds a fleet from cfg. Device i gets the status listener
// statusHost:StatusPortBase+i when StatusPortBase is positive. Child output
// goes to out; nil discards it.
func New(cfg config.FleetConfig, devices []string, out io.Writer, logger *logging.Logger) (*Fleet, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	if logger == nil {
		logger = logging.Nop()
	}

	procs := make([]*Process, len(devices))
	for i, name := range devices {
		if !ValidName(name) {
			return nil, fmt.Errorf("fleet: invalid device name %q", name)
		}
		var env []string
		if cfg.StatusPortBase > 0 {
			addr := net.JoinHostPort(statusHost, strconv.Itoa(cfg.StatusPortBase+i))
			env = append(env, "ESN_STATUS_LISTEN="+addr)
		}
		procs[i] = NewProcess(ProcessConfig{
			Device:             name,
			Binary:             cfg.Binary,
			Args:               cfg.Args,
			Env:                env,
			Stdout:             out,
			Stderr:             out,
			RestartOnFailure:   cfg.RestartOnFailure,
			RestartDelay:       cfg.RestartDelay(),
			MaxRestartAttempts: cfg.MaxRestartAttempts,
			StopTimeout:        cfg.StopTimeout(),
		}, logger)
	}

	return &Fleet{procs: procs, logger: logger.With("component", "fleet")}, nil
}

// Start launches every device. If one fails to start, those already running
// are stopped and the error is returned.
func (f *Fleet) Start(ctx context.Context) error {
	for i, p := range f.procs {
		if err := p.Start(ctx); err != nil {
			if stopErr := stopAll(f.procs[:i]); stopErr != nil {
				f.logger.Warn("stopping partial fleet", "error", stopErr)
			}
			return err
		}
	}
	f.logger.Info("fleet started", "devices", len(f.procs))
	return nil
}

// Stop stops every device concurrently and returns once all have exited.
func (f *Fleet) Stop() error {
	err := stopAll(f.procs)
	f.logger.Info("fleet stopped", "devices", len(f.procs))
	return err
}

func stopAll(procs []*Process) error {
	var g errgroup.Group
	for _, p := range procs {
		g.Go(p.Stop)
	}
	return g.Wait()
}

// Run starts the fleet and blocks until ctx is cancelled or every device has
// exited for good, then stops whatever is left.
func (f *Fleet) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return err
	}

	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		for _, p := range f.procs {
			<-p.Done()
		}
	}()

	select {
	case <-ctx.Done():
		f.logger.Info("shutdown requested, stopping fleet")
	case <-allDone:
		f.logger.Warn("every device process has exited")
	}
	return f.Stop()
}

// Stats returns per-device process statistics.
func (f *Fleet) Stats() []ProcessStats {
	stats := make([]ProcessStats, len(f.procs))
	for i, p := range f.procs {
		stats[i] = p.Stats()
	}
	return stats
}
