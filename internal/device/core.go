package device

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/dataset"
	"github.com/nerrad567/esn-edge-sensor/internal/inference"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/lifecycle"
	"github.com/nerrad567/esn-edge-sensor/internal/metrics"
	"github.com/nerrad567/esn-edge-sensor/internal/model"
	"github.com/nerrad567/esn-edge-sensor/internal/power"
)

// ErrNoName is returned by NewCore when the device name is empty.
var ErrNoName = errors.New("device: name is required")

// Measurements produces the next measurement sequence. It is only called from
// the sampling loop.
type Measurements interface {
	Next() dataset.Sequence
}

// Config holds everything NewCore needs.
type Config struct {
	Name string

	Policy          inference.PolicyConfig
	Battery         power.Battery
	SleepIntervalMs int

	// Jitter randomises the sleep interval. Nil uses math/rand/v2.
	Jitter power.Jitter

	// Loader turns SET sensor-model blobs into predictors. Nil uses
	// model.CentroidLoader.
	Loader model.Loader

	// Predictor is the initial model. Nil means no local prediction until a
	// model is pushed.
	Predictor model.Predictor

	Source Measurements
	Logger *logging.Logger
}

// Core is the device state shared by the command and sampling loops.
type Core struct {
	name     string
	adaptive bool
	logger   *logging.Logger
	source   Measurements
	cycle    *power.CycleManager
	now      func() time.Time

	stateMu sync.Mutex
	machine *lifecycle.Machine

	inferMu   sync.Mutex
	policy    *inference.Policy
	predictor model.Predictor
	loader    model.Loader

	configMu sync.Mutex
	sleep    power.SleepConfig
	jitter   power.Jitter
}

// NewCore builds a core in the initial state.
func NewCore(cfg Config) (*Core, error) {
	if cfg.Name == "" {
		return nil, ErrNoName
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("device %s: measurement source is required", cfg.Name)
	}

	jitter := cfg.Jitter
	if jitter == nil {
		jitter = randJitter{}
	}
	sleep, err := power.NewSleepConfig(cfg.SleepIntervalMs, jitter)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.Name, err)
	}

	loader := cfg.Loader
	if loader == nil {
		loader = model.CentroidLoader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	c := &Core{
		name:      cfg.Name,
		adaptive:  cfg.Policy.Adaptive,
		logger:    logger.With("component", "device", "device", cfg.Name),
		source:    cfg.Source,
		cycle:     power.NewCycleManager(cfg.Battery),
		now:       time.Now,
		machine:   lifecycle.NewMachine(),
		policy:    inference.NewPolicy(cfg.Policy),
		predictor: cfg.Predictor,
		loader:    loader,
		sleep:     sleep,
		jitter:    jitter,
	}
	metrics.SetLifecycleState(string(lifecycle.StateInitial), stateNames())
	return c, nil
}

// Name returns the device name.
func (c *Core) Name() string { return c.name }

// Cycle returns the power cycle manager.
func (c *Core) Cycle() *power.CycleManager { return c.cycle }

// =============================================================================
// Lifecycle
// =============================================================================

// State returns the current lifecycle state.
func (c *Core) State() lifecycle.State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.machine.State()
}

// Trigger fires a lifecycle event.
func (c *Core) Trigger(event lifecycle.Event) (lifecycle.State, error) {
	c.stateMu.Lock()
	from := c.machine.State()
	to, err := c.machine.Trigger(event)
	c.stateMu.Unlock()

	if err != nil {
		return to, err
	}
	metrics.SetLifecycleState(string(to), stateNames())
	c.logger.Info("state changed", "event", event, "from", from, "to", to)
	return to, nil
}

// =============================================================================
// Inference
// =============================================================================

// InferenceLayer returns the layer a GET reports. It does not run the
// adaptive heuristic.
func (c *Core) InferenceLayer() inference.Layer {
	c.inferMu.Lock()
	defer c.inferMu.Unlock()
	return c.policy.Layer()
}

// SetInferenceLayer stores a remotely chosen layer. In fixed mode it is only
// allowed while unlocked, in adaptive mode while unlocked or working.
func (c *Core) SetInferenceLayer(layer inference.Layer) error {
	allowed := []lifecycle.State{lifecycle.StateUnlocked}
	if c.adaptive {
		allowed = append(allowed, lifecycle.StateWorking)
	}
	if err := lifecycle.Require(c.State(), allowed...); err != nil {
		return fmt.Errorf("setting inference layer: %w", err)
	}

	c.inferMu.Lock()
	c.policy.Set(layer)
	c.inferMu.Unlock()

	c.logger.Info("inference layer set", "layer", layer, "adaptive", c.adaptive)
	return nil
}

// CurrentInferenceLayer evaluates the layer for a sampling cycle. In
// adaptive mode this may escalate and clear the prediction history.
func (c *Core) CurrentInferenceLayer() inference.Layer {
	low := c.cycle.LowBattery()

	c.inferMu.Lock()
	decision := c.policy.Current(low)
	c.inferMu.Unlock()

	if decision.Escalated {
		metrics.LayerEscalationsTotal.Inc()
		c.logger.Info("adapting inference layer", "layer", decision.Layer, "low_battery", low)
	}
	return decision.Layer
}

// Predict classifies seq with the current model and records whether the
// label was abnormal. It only predicts while working; ok is false when no
// prediction was made, and the history is then left untouched.
func (c *Core) Predict(seq dataset.Sequence) (label int, ok bool) {
	if c.State() != lifecycle.StateWorking {
		return 0, false
	}

	c.inferMu.Lock()
	predictor := c.predictor
	c.inferMu.Unlock()

	if predictor == nil {
		c.logger.Debug("no model loaded, skipping prediction")
		return 0, false
	}

	label, err := predictor.Predict(seq)
	if err != nil {
		c.logger.Warn("prediction failed", "error", err)
		return 0, false
	}

	c.inferMu.Lock()
	abnormal := c.policy.Record(label)
	c.inferMu.Unlock()

	metrics.ObservePrediction(label)
	c.logger.Debug("prediction", "label", label, "abnormal", abnormal)
	return label, true
}

// UpdateModel replaces the model from a base64 blob. Only allowed while
// unlocked or idle; a refused update is logged at debug.
func (c *Core) UpdateModel(b64 string, size int) error {
	if err := lifecycle.Require(c.State(), lifecycle.StateUnlocked, lifecycle.StateIdle); err != nil {
		c.logger.Debug("ignoring model update", "error", err)
		return fmt.Errorf("updating model: %w", err)
	}

	blob, err := model.Decode(b64, size)
	if err != nil {
		return fmt.Errorf("updating model: %w", err)
	}

	predictor, err := c.loader.Load(blob)
	if err != nil {
		return fmt.Errorf("updating model: %w", err)
	}

	c.inferMu.Lock()
	c.predictor = predictor
	c.inferMu.Unlock()

	c.logger.Info("model updated", "bytes", len(blob))
	return nil
}

// HasModel reports whether a predictor is loaded.
func (c *Core) HasModel() bool {
	c.inferMu.Lock()
	defer c.inferMu.Unlock()
	return c.predictor != nil
}

// =============================================================================
// Sensor configuration
// =============================================================================

// SensorConfig returns the sleep configuration.
func (c *Core) SensorConfig() power.SleepConfig {
	c.configMu.Lock()
	defer c.configMu.Unlock()
	return c.sleep
}

// SetSensorConfig sets a new base sleep interval and draws fresh jitter.
// Only allowed while unlocked or idle.
func (c *Core) SetSensorConfig(baseMs int) error {
	if err := lifecycle.Require(c.State(), lifecycle.StateUnlocked, lifecycle.StateIdle); err != nil {
		return fmt.Errorf("setting sensor config: %w", err)
	}

	c.configMu.Lock()
	cfg, err := power.NewSleepConfig(baseMs, c.jitter)
	if err == nil {
		c.sleep = cfg
	}
	c.configMu.Unlock()

	if err != nil {
		return fmt.Errorf("setting sensor config: %w", err)
	}
	c.logger.Info("sensor config set", "base_ms", cfg.BaseMs, "effective_ms", cfg.EffectiveMs)
	return nil
}

// =============================================================================
// Sampling
// =============================================================================

// Measure returns the next measurement sequence. Sampling loop only.
func (c *Core) Measure() dataset.Sequence {
	return c.source.Next()
}

// Sample runs one working cycle: measure, choose the layer, predict locally
// on the sensor layer and build the export.
func (c *Core) Sample() SensorDataExport {
	seq := c.Measure()
	layer := c.CurrentInferenceLayer()
	metrics.InferenceLayer.Set(float64(layer))

	descriptor := InferenceDescriptor{InferenceLayer: int(layer)}
	if layer == inference.LayerSensor {
		descriptor.SendTimestamp = c.now().UnixMicro()
		label, ok := c.Predict(seq)
		recv := c.now().UnixMicro()
		descriptor.RecvTimestamp = &recv
		if ok {
			descriptor.Prediction = &label
		}
	} else {
		descriptor.SendTimestamp = c.now().UnixMicro()
	}

	return SensorDataExport{
		LowBattery:          c.cycle.LowBattery(),
		SensorReading:       SensorReading{Values: seq},
		InferenceDescriptor: descriptor,
	}
}

// Status is a point-in-time view of the device for the health endpoint.
type Status struct {
	Device         string          `json:"device"`
	State          lifecycle.State `json:"state"`
	InferenceLayer int             `json:"inference_layer"`
	Cycle          uint64          `json:"cycle"`
	Sleeping       bool            `json:"sleeping"`
	LowBattery     bool            `json:"low_battery"`
}

// Status returns the current device status. Each field is read under its
// own lock, so the view may straddle a concurrent change.
func (c *Core) Status() Status {
	return Status{
		Device:         c.name,
		State:          c.State(),
		InferenceLayer: int(c.InferenceLayer()),
		Cycle:          c.cycle.Cycles(),
		Sleeping:       c.cycle.Sleeping(),
		LowBattery:     c.cycle.LowBattery(),
	}
}

func stateNames() []string {
	names := make([]string, len(lifecycle.States))
	for i, s := range lifecycle.States {
		names[i] = string(s)
	}
	return names
}

// randJitter draws from the process-wide math/rand/v2 source.
type randJitter struct{}

func (randJitter) IntN(n int) int { return rand.IntN(n) }
