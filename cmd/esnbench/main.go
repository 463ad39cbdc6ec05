// esnbench measures command round-trip latency across a fleet.
//
// It periodically sends inf-latency-bench probes to every device, records
// each answer in SQLite and writes all recorded samples to a CSV file on
// shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/esn-edge-sensor/migrations"

	"github.com/nerrad567/esn-edge-sensor/internal/benchmark"
	"github.com/nerrad567/esn-edge-sensor/internal/fleet"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/config"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/database"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/mqtt"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName        = "esnbench"
	exportTimeout      = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
)

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
	log.Info("starting latency bench", "version", version, "commit", commit, "build_date", date)

	devices := cfg.Bench.Devices
	if len(devices) == 0 {
		devices, err = fleet.LoadNames(cfg.Bench.DevicesFile)
		if err != nil {
			return fmt.Errorf("loading devices: %w", err)
		}
	}
	log.Info("probing devices", "devices", devices, "interval", cfg.Bench.ProbeIntervalDuration())

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	log.Info("database ready", "path", cfg.Database.Path, "schema_version", schema)

	repo := benchmark.NewSQLiteRepository(db.DB)
	recorder := benchmark.NewRecorder(repo, log)

	// The bench is one client among many devices; it gets its own client ID.
	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID = serviceName + "-" + fmt.Sprint(os.Getpid())
	mqttClient := mqtt.New(mqttCfg)
	mqttClient.SetLogger(log)

	if err := mqttClient.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	var topics mqtt.Topics
	if err := mqttClient.Subscribe(topics.AllLatencyBench(), cfg.MQTT.SubscriptionQoS(), recorder.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to latency exports: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	prober := benchmark.NewProber(mqttClient, devices, cfg.Bench.ProbeIntervalDuration(), log)
	if err := prober.Run(ctx); err != nil {
		return fmt.Errorf("running prober: %w", err)
	}

	// Stop recording so the export is a stable snapshot.
	if err := mqttClient.Unsubscribe(topics.AllLatencyBench()); err != nil {
		log.Warn("unsubscribing from latency exports", "error", err)
	}

	log.Info("shutdown requested, exporting samples")
	exportCtx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	n, err := benchmark.ExportCSV(exportCtx, repo, cfg.Bench.ExportPath)
	if err != nil {
		return fmt.Errorf("exporting samples: %w", err)
	}
	log.Info("samples exported", "path", cfg.Bench.ExportPath, "rows", n)
	return nil
}

// healthCheck verifies the database and broker before probing starts.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
