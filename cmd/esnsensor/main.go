// esnsensor runs one simulated edge sensor node.
//
// The node samples recorded measurements, classifies them locally or defers
// to an upstream layer, publishes the result over MQTT and deep-sleeps
// between cycles. Operators drive it through command topics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/esn-edge-sensor/internal/dataset"
	"github.com/nerrad567/esn-edge-sensor/internal/device"
	"github.com/nerrad567/esn-edge-sensor/internal/inference"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/config"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/influxdb"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/mqtt"
	"github.com/nerrad567/esn-edge-sensor/internal/model"
	"github.com/nerrad567/esn-edge-sensor/internal/power"
	"github.com/nerrad567/esn-edge-sensor/internal/status"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "esnsensor"

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

	log := logging.New(cfg.Logging, serviceName, version).With("device", cfg.Device.Name)
	log.Info("starting sensor node",
		"version", version,
		"commit", commit,
		"build_date", date,
		"adaptive", cfg.Inference.Adaptive,
	)

	source, err := dataset.Load(cfg.Dataset.Path, dataset.Options{
		SequenceLength: cfg.Dataset.SequenceLength,
		Shuffle:        cfg.Dataset.Shuffle,
		Seed:           cfg.Dataset.Seed,
	})
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	log.Info("dataset loaded", "path", cfg.Dataset.Path, "sequences", source.Len())

	predictor, err := loadModel(cfg.Device.ModelFile)
	if err != nil {
		return err
	}
	if predictor == nil {
		log.Info("no initial model, exporting without local predictions until one is pushed")
	}

	core, err := device.NewCore(device.Config{
		Name: cfg.Device.Name,
		Policy: inference.PolicyConfig{
			Adaptive:          cfg.Inference.Adaptive,
			FallbackLayer:     inference.Layer(cfg.Inference.FallbackLayer),
			HistoryLength:     cfg.Inference.HistoryLength,
			AbnormalLabels:    cfg.Inference.AbnormalLabels,
			AbnormalThreshold: cfg.Inference.AbnormalThreshold,
		},
		Battery: power.Battery{
			LifetimeCycles: cfg.Battery.LifetimeCycles,
			LowThreshold:   cfg.Battery.LowThreshold,
		},
		SleepIntervalMs: cfg.Device.SleepIntervalMs,
		Predictor:       predictor,
		Source:          source,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating device: %w", err)
	}

	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT connection lost", "error", err) })

	if err := mqttClient.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	runner := device.NewRunner(core, mqttClient, log)
	checks := make(map[string]status.Checker)

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		runner.SetTelemetry(influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := runner.Subscribe(mqttClient, cfg.MQTT.SubscriptionQoS()); err != nil {
		return err
	}

	if cfg.Status.Enabled {
		srv, err := status.New(status.Deps{
			Device: core,
			MQTT:   mqttClient,
			Checks: checks,
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("creating status server: %w", err)
		}
		if err := srv.Start(ctx, cfg.Status.Listen); err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, entering sampling loop")
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("device runner: %w", err)
	}

	log.Info("sensor node stopped", "cycles", core.Cycle().Cycles())
	return nil
}

// loadModel reads the initial model file. An empty path means no model.
func loadModel(path string) (model.Predictor, error) {
	if path == "" {
		return nil, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("model file %s does not exist", path)
		}
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	predictor, err := model.CentroidLoader.Load(blob)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", path, err)
	}
	return predictor, nil
}
