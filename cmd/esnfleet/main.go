// esnfleet runs a fleet of sensor nodes, one esnsensor process per device.
//
// Device names come from fleet.devices_file and are generated and saved
// there when the file is missing or too short. On SIGINT or SIGTERM every
// node is stopped before esnfleet exits.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/fleet"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/config"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "esnfleet"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("ESN_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, serviceName, version)
	log.Info("starting fleet",
		"version", version,
		"commit", commit,
		"build_date", date,
		"count", cfg.Fleet.Count,
	)

	seed := uint64(time.Now().UnixNano()) //nolint:gosec // Device names need uniqueness, not secrecy
	rng := rand.New(rand.NewPCG(seed, seed>>1))
	names, err := fleet.ResolveNames(cfg.Fleet.DevicesFile, cfg.Fleet.Count, rng)
	if err != nil {
		return fmt.Errorf("resolving device names: %w", err)
	}
	log.Info("devices resolved", "file", cfg.Fleet.DevicesFile, "devices", names)

	f, err := fleet.New(cfg.Fleet, names, os.Stdout, log)
	if err != nil {
		return fmt.Errorf("creating fleet: %w", err)
	}

	if err := f.Run(ctx); err != nil {
		return fmt.Errorf("running fleet: %w", err)
	}

	for _, s := range f.Stats() {
		log.Info("device summary", "device", s.Device, "status", s.Status, "restarts", s.Restarts, "last_error", s.LastError)
	}
	log.Info("fleet stopped")
	return nil
}
