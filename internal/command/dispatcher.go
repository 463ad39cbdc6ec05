package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/inference"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/mqtt"
	"github.com/nerrad567/esn-edge-sensor/internal/lifecycle"
	"github.com/nerrad567/esn-edge-sensor/internal/metrics"
	"github.com/nerrad567/esn-edge-sensor/internal/power"
)

// QoS levels for outbound messages.
const (
	QoSResponse     byte = 1
	QoSLatencyBench byte = 1
)

// Device is the state a command can read or change. Every setter enforces
// its own lifecycle gate and reports lifecycle.ErrNotPermitted when closed.
type Device interface {
	Name() string

	State() lifecycle.State
	Trigger(event lifecycle.Event) (lifecycle.State, error)

	InferenceLayer() inference.Layer
	SetInferenceLayer(layer inference.Layer) error

	SensorConfig() power.SleepConfig
	SetSensorConfig(baseMs int) error

	UpdateModel(b64 string, size int) error
}

// Outbound is a message the dispatcher wants published.
type Outbound struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// handler applies one (method, resource) command.
type handler func(d *Dispatcher, env Envelope) (*Outbound, error)

type key struct {
	method   Method
	resource Resource
}

// commands is the complete command table.
var commands = map[key]handler{
	{MethodGet, ResourceSensorState}:    getSensorState,
	{MethodSet, ResourceSensorState}:    setSensorState,
	{MethodGet, ResourceInferenceLayer}: getInferenceLayer,
	{MethodSet, ResourceInferenceLayer}: setInferenceLayer,
	{MethodGet, ResourceSensorConfig}:   getSensorConfig,
	{MethodSet, ResourceSensorConfig}:   setSensorConfig,
	{MethodSet, ResourceSensorModel}:    setSensorModel,
	{MethodSet, ResourceLatencyBench}:   setLatencyBench,
}

// setStateEvents maps a requested sensor-state to the event that reaches it.
var setStateEvents = map[lifecycle.State]lifecycle.Event{
	lifecycle.StateInitial:  lifecycle.EventReset,
	lifecycle.StateError:    lifecycle.EventError,
	lifecycle.StateLocked:   lifecycle.EventLockSettings,
	lifecycle.StateUnlocked: lifecycle.EventUnlockSettings,
	lifecycle.StateWorking:  lifecycle.EventStartSensor,
	lifecycle.StateIdle:     lifecycle.EventStopSensor,
}

// Dispatcher decodes inbound messages and applies them to a Device. It is
// called from the single command goroutine, so commands apply in arrival
// order.
type Dispatcher struct {
	device Device
	logger *logging.Logger
	topics mqtt.Topics
	now    func() time.Time
}

// NewDispatcher returns a dispatcher bound to device.
func NewDispatcher(device Device, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		device: device,
		logger: logger.With("component", "dispatcher", "device", device.Name()),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for benchmark timestamps.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Dispatch handles one inbound message. It returns the message to publish,
// if any. A non-nil error means the command was dropped or rejected; the
// dispatcher has already logged it.
func (d *Dispatcher) Dispatch(topic string, payload []byte) (*Outbound, error) {
	env, err := Decode(topic, payload)
	if err == nil && env.Device != d.device.Name() {
		err = fmt.Errorf("%w: %q", ErrWrongDevice, env.Device)
	}
	if err != nil {
		d.logger.Warn("dropping malformed command", "topic", topic, "error", err)
		metrics.ObserveCommand(string(env.Resource), string(env.Method), metrics.OutcomeInvalid)
		return nil, err
	}

	h, ok := commands[key{env.Method, env.Resource}]
	if !ok {
		err := fmt.Errorf("%w: %s %s", ErrUnknownCommand, env.Method, env.Resource)
		d.logger.Warn("dropping unknown command", "topic", topic, "error", err)
		metrics.ObserveCommand(string(env.Resource), string(env.Method), metrics.OutcomeInvalid)
		return nil, err
	}

	out, err := h(d, env)
	switch {
	case err == nil:
		d.logger.Debug("command applied",
			"resource", env.Resource,
			"method", env.Method,
			"correlation_id", env.CorrelationID,
		)
		metrics.ObserveCommand(string(env.Resource), string(env.Method), metrics.OutcomeApplied)
		return out, nil
	case errors.Is(err, errNoop):
		d.logger.Info("command had no effect", "resource", env.Resource, "reason", err)
		metrics.ObserveCommand(string(env.Resource), string(env.Method), metrics.OutcomeNoop)
		return nil, nil
	case errors.Is(err, ErrInvalidValue):
		d.logger.Warn("dropping command with invalid value", "resource", env.Resource, "error", err)
		metrics.ObserveCommand(string(env.Resource), string(env.Method), metrics.OutcomeInvalid)
		return nil, err
	default:
		// Model updates outside unlocked/idle are expected and quiet.
		level := slog.LevelInfo
		if env.Resource == ResourceSensorModel {
			level = slog.LevelDebug
		}
		d.logger.Log(context.Background(), level, "command rejected",
			"resource", env.Resource,
			"method", env.Method,
			"state", d.device.State(),
			"error", err,
		)
		metrics.ObserveCommand(string(env.Resource), string(env.Method), metrics.OutcomeRejected)
		return nil, err
	}
}

func (d *Dispatcher) response(env Envelope, value any) (*Outbound, error) {
	payload, err := json.Marshal(map[string]any{string(env.Resource): value})
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", env.Resource, err)
	}
	return &Outbound{
		Topic:   d.topics.Response(d.device.Name(), string(env.Resource), env.CorrelationID),
		Payload: payload,
		QoS:     QoSResponse,
	}, nil
}

func decodeValue(env Envelope, v any) error {
	if err := json.Unmarshal(env.Value, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, env.Resource, err)
	}
	return nil
}

// =============================================================================
// sensor-state
// =============================================================================

func getSensorState(d *Dispatcher, env Envelope) (*Outbound, error) {
	return d.response(env, d.device.State())
}

// setSensorState triggers the event leading to the requested state. The
// guard is checked here to produce a diagnostic and again by the machine.
func setSensorState(d *Dispatcher, env Envelope) (*Outbound, error) {
	var raw string
	if err := decodeValue(env, &raw); err != nil {
		return nil, err
	}
	target, err := lifecycle.ParseState(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	current := d.device.State()
	if target == current {
		return nil, fmt.Errorf("%w: %s", errNoop, current)
	}

	event := setStateEvents[target]
	if !lifecycle.Allowed(event, current) {
		return nil, fmt.Errorf("%w: cannot move to %s from %s", lifecycle.ErrTransitionNotAllowed, target, current)
	}
	if _, err := d.device.Trigger(event); err != nil {
		return nil, err
	}
	return nil, nil
}

// =============================================================================
// inference-layer
// =============================================================================

func getInferenceLayer(d *Dispatcher, env Envelope) (*Outbound, error) {
	return d.response(env, int(d.device.InferenceLayer()))
}

func setInferenceLayer(d *Dispatcher, env Envelope) (*Outbound, error) {
	var raw int
	if err := decodeValue(env, &raw); err != nil {
		return nil, err
	}
	layer, err := inference.ParseLayer(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nil, d.device.SetInferenceLayer(layer)
}

// =============================================================================
// sensor-config
// =============================================================================

func getSensorConfig(d *Dispatcher, env Envelope) (*Outbound, error) {
	cfg := d.device.SensorConfig()
	return d.response(env, SensorConfigValue{SleepIntervalMs: cfg.EffectiveMs})
}

func setSensorConfig(d *Dispatcher, env Envelope) (*Outbound, error) {
	var v SensorConfigValue
	if err := decodeValue(env, &v); err != nil {
		return nil, err
	}
	if v.SleepIntervalMs <= 0 {
		return nil, fmt.Errorf("%w: sleep_interval_ms must be positive, got %d", ErrInvalidValue, v.SleepIntervalMs)
	}
	err := d.device.SetSensorConfig(v.SleepIntervalMs)
	if errors.Is(err, power.ErrInvalidInterval) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nil, err
}

// =============================================================================
// sensor-model
// =============================================================================

func setSensorModel(d *Dispatcher, env Envelope) (*Outbound, error) {
	var v SensorModelValue
	if err := decodeValue(env, &v); err != nil {
		return nil, err
	}
	if v.ModelB64 == "" {
		return nil, fmt.Errorf("%w: tf_model_b64 is empty", ErrInvalidValue)
	}
	return nil, d.device.UpdateModel(v.ModelB64, v.ModelByteSize)
}

// =============================================================================
// inf-latency-bench
// =============================================================================

// setLatencyBench answers regardless of lifecycle state.
func setLatencyBench(d *Dispatcher, env Envelope) (*Outbound, error) {
	var v struct {
		ReadingUUID   string `json:"reading_uuid"`
		SendTimestamp *int64 `json:"send_timestamp"`
	}
	if err := decodeValue(env, &v); err != nil {
		return nil, err
	}
	if v.ReadingUUID == "" {
		return nil, fmt.Errorf("%w: reading_uuid is empty", ErrInvalidValue)
	}
	if v.SendTimestamp == nil {
		return nil, fmt.Errorf("%w: send_timestamp is required", ErrInvalidValue)
	}

	sent := *v.SendTimestamp
	recv := d.now().UnixMicro()
	payload, err := json.Marshal(LatencyBenchExport{
		ReadingUUID:      v.ReadingUUID,
		SendTimestamp:    sent,
		RecvTimestamp:    recv,
		InferenceLatency: recv - sent,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding latency export: %w", err)
	}

	return &Outbound{
		Topic:   d.topics.LatencyBench(d.device.Name()),
		Payload: payload,
		QoS:     QoSLatencyBench,
	}, nil
}
