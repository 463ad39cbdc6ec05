package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by esnsensor, esnfleet
// and esnbench. Each binary reads the sections it needs.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Inference InferenceConfig `yaml:"inference"`
	Battery   BatteryConfig   `yaml:"battery"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Logging   LoggingConfig   `yaml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Status    StatusConfig    `yaml:"status"`
	Database  DatabaseConfig  `yaml:"database"`
	Bench     BenchConfig     `yaml:"bench"`
	Fleet     FleetConfig     `yaml:"fleet"`
}

// DeviceConfig identifies the node and its initial sensor settings.
type DeviceConfig struct {
	Name            string `yaml:"name"`
	SleepIntervalMs int    `yaml:"sleep_interval_ms"`

	// ModelFile optionally points at a model loaded at startup.
	ModelFile string `yaml:"model_file"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// QoS is the subscription QoS for commands and latency exports.
	QoS int `yaml:"qos"`

	// CleanSession false keeps the broker-side session, so commands sent
	// while the node sleeps are delivered after it reconnects.
	CleanSession bool                `yaml:"clean_session"`
	Reconnect    MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID defaults to the device name.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InferenceConfig selects fixed or adaptive layer selection.
type InferenceConfig struct {
	Adaptive          bool  `yaml:"adaptive"`
	FallbackLayer     int   `yaml:"fallback_layer"`
	HistoryLength     int   `yaml:"history_length"`
	AbnormalLabels    []int `yaml:"abnormal_labels"`
	AbnormalThreshold int   `yaml:"abnormal_threshold"`
}

// BatteryConfig parameterises the cycle-count battery model.
type BatteryConfig struct {
	LifetimeCycles int     `yaml:"lifetime_cycles"`
	LowThreshold   float64 `yaml:"low_threshold"`
}

// DatasetConfig points at the recorded measurement dataset.
type DatasetConfig struct {
	Path           string `yaml:"path"`
	SequenceLength int    `yaml:"sequence_length"`
	Shuffle        bool   `yaml:"shuffle"`
	Seed           uint64 `yaml:"seed"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StatusConfig controls the health and metrics HTTP listener.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DatabaseConfig contains SQLite settings for the latency recorder.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BenchConfig drives the latency prober and recorder.
type BenchConfig struct {
	// Devices to probe. Empty means read DevicesFile.
	Devices     []string `yaml:"devices"`
	DevicesFile string   `yaml:"devices_file"`

	// ProbeInterval is in milliseconds.
	ProbeInterval int    `yaml:"probe_interval"`
	ExportPath    string `yaml:"export_path"`
}

// FleetConfig controls the multi-process launcher.
type FleetConfig struct {
	// Count is the number of devices to run.
	Count int `yaml:"count"`

	DevicesFile string   `yaml:"devices_file"`
	Binary      string   `yaml:"binary"`
	Args        []string `yaml:"args"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`

	// StatusPortBase > 0 gives device i the status listener :base+i.
	StatusPortBase int `yaml:"status_port_base"`

	// StopTimeoutSeconds is the grace period before SIGKILL.
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds"`
}

// Load reads configuration and applies environment overrides.
//
// An empty path skips the YAML step. The result is validated; all problems
// are reported together.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	envFile := os.Getenv("ESN_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:            "ESP32_123456",
			SleepIntervalMs: 10000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Inference: InferenceConfig{
			FallbackLayer:     0,
			HistoryLength:     10,
			AbnormalLabels:    []int{2, 3},
			AbnormalThreshold: 5,
		},
		Battery: BatteryConfig{
			LifetimeCycles: 1000,
			LowThreshold:   0.3,
		},
		Dataset: DatasetConfig{
			Path:           "dataset",
			SequenceLength: 50,
			Shuffle:        true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Status: StatusConfig{
			Listen: "127.0.0.1:9100",
		},
		Database: DatabaseConfig{
			Path:        "./data/latency.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Bench: BenchConfig{
			DevicesFile:   "devices.json",
			ProbeInterval: 1000,
			ExportPath:    "latency.csv",
		},
		Fleet: FleetConfig{
			Count:               3,
			DevicesFile:         "devices.json",
			Binary:              "esnsensor",
			RestartOnFailure:    true,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
			StatusPortBase:      9101,
			StopTimeoutSeconds:  10,
		},
	}
}

// applyEnvOverrides applies environment variables on top of the file values.
// Malformed numeric values are reported, not ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	// Unprefixed names used by existing deployments.
	str("MQTT_BROKER_HOST", &cfg.MQTT.Broker.Host)
	integer("MQTT_BROKER_PORT", &cfg.MQTT.Broker.Port)
	str("DEVICE_NAME", &cfg.Device.Name)
	integer("FALLBACK_INFERENCE_LAYER", &cfg.Inference.FallbackLayer)
	if v := os.Getenv("ADAPTIVE_INFERENCE"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("ADAPTIVE_INFERENCE: %w", err))
		} else {
			cfg.Inference.Adaptive = b
		}
	}
	integer("DEVICE_BATTERY_LIFETIME_IN_CYCLES", &cfg.Battery.LifetimeCycles)
	if v := os.Getenv("LOW_BATTERY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOW_BATTERY_THRESHOLD: %w", err))
		} else {
			cfg.Battery.LowThreshold = f
		}
	}
	integer("PREDICTION_HISTORY_LENGTH", &cfg.Inference.HistoryLength)
	if v := os.Getenv("ABNORMAL_LABELS"); v != "" {
		var labels []int
		if err := json.Unmarshal([]byte(v), &labels); err != nil {
			errs = append(errs, fmt.Errorf("ABNORMAL_LABELS: %w", err))
		} else {
			cfg.Inference.AbnormalLabels = labels
		}
	}
	integer("ABNORMAL_PREDICTION_THRESHOLD", &cfg.Inference.AbnormalThreshold)

	// ESN_ names.
	str("ESN_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("ESN_STATUS_LISTEN"); v != "" {
		cfg.Status.Listen = v
		cfg.Status.Enabled = true
	}
	str("ESN_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("ESN_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	str("ESN_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("ESN_DATASET_PATH", &cfg.Dataset.Path)
	str("ESN_DATABASE_PATH", &cfg.Database.Path)
	str("ESN_MODEL_FILE", &cfg.Device.ModelFile)
	integer("ESN_FLEET_DEVICES", &cfg.Fleet.Count)

	return errors.Join(errs...)
}

// normalise derives dependent values once all sources are applied.
func (c *Config) normalise() {
	if c.MQTT.Broker.ClientID == "" {
		c.MQTT.Broker.ClientID = c.Device.Name
	}
	if c.Inference.AbnormalThreshold > c.Inference.HistoryLength {
		c.Inference.AbnormalThreshold = c.Inference.HistoryLength
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	} else if strings.ContainsAny(c.Device.Name, "/+#") {
		errs = append(errs, "device.name must not contain MQTT topic characters (/, +, #)")
	}
	if c.Device.SleepIntervalMs <= 0 {
		errs = append(errs, "device.sleep_interval_ms must be positive")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Inference.FallbackLayer < 0 || c.Inference.FallbackLayer > 2 {
		errs = append(errs, "inference.fallback_layer must be 0, 1, or 2")
	}
	if c.Inference.HistoryLength < 1 {
		errs = append(errs, "inference.history_length must be at least 1")
	}
	if c.Inference.AbnormalThreshold < 1 {
		errs = append(errs, "inference.abnormal_threshold must be at least 1")
	}

	if c.Battery.LifetimeCycles < 1 {
		errs = append(errs, "battery.lifetime_cycles must be at least 1")
	}
	if c.Battery.LowThreshold < 0 || c.Battery.LowThreshold > 1 {
		errs = append(errs, "battery.low_threshold must be between 0 and 1")
	}

	if c.Dataset.SequenceLength < 1 {
		errs = append(errs, "dataset.sequence_length must be at least 1")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Status.Enabled && c.Status.Listen == "" {
		errs = append(errs, "status.listen is required when status is enabled")
	}

	if c.Fleet.Count < 1 {
		errs = append(errs, "fleet.count must be at least 1")
	}

	if c.Bench.ProbeInterval < 1 {
		errs = append(errs, "bench.probe_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SubscriptionQoS returns the QoS used for inbound subscriptions.
func (m MQTTConfig) SubscriptionQoS() byte {
	return byte(m.QoS)
}

// ProbeIntervalDuration returns the latency probe interval.
func (b BenchConfig) ProbeIntervalDuration() time.Duration {
	return time.Duration(b.ProbeInterval) * time.Millisecond
}

// RestartDelay returns the fleet restart delay.
func (f FleetConfig) RestartDelay() time.Duration {
	return time.Duration(f.RestartDelaySeconds) * time.Second
}

// StopTimeout returns the fleet shutdown grace period.
func (f FleetConfig) StopTimeout() time.Duration {
	return time.Duration(f.StopTimeoutSeconds) * time.Second
}
