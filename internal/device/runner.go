package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/esn-edge-sensor/internal/command"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/influxdb"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/mqtt"
	"github.com/nerrad567/esn-edge-sensor/internal/lifecycle"
	"github.com/nerrad567/esn-edge-sensor/internal/metrics"
	"github.com/nerrad567/esn-edge-sensor/internal/power"
)

const (
	// QoSSensorData is the QoS of the periodic sensor export.
	QoSSensorData byte = 0

	defaultInboxSize    = 64
	defaultPollInterval = time.Second
)

// ErrStopped is returned by HandleMessage once the runner has exited.
var ErrStopped = errors.New("device: runner stopped")

// Transport is the broker connection as seen by the runner.
type Transport interface {
	power.Transport
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry receives one record per published sample and per latency
// benchmark answer. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteSensorCycle(rec influxdb.SensorCycle)
	WriteLatencyBench(rec influxdb.LatencyBench)
}

// Subscriber registers a handler for a topic filter. *mqtt.Client
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

type inbound struct {
	topic   string
	payload []byte
}

// Runner drives a Core: the command loop applies inbound commands in order
// and the sampling loop measures, publishes and sleeps.
type Runner struct {
	core       *Core
	transport  Transport
	dispatcher *command.Dispatcher
	telemetry  Telemetry
	logger     *logging.Logger
	topics     mqtt.Topics

	inbox        chan inbound
	done         chan struct{}
	pollInterval time.Duration
}

// NewRunner wires a core to its transport.
func NewRunner(core *Core, transport Transport, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		core:         core,
		transport:    transport,
		dispatcher:   command.NewDispatcher(core, logger),
		logger:       logger.With("component", "runner", "device", core.Name()),
		inbox:        make(chan inbound, defaultInboxSize),
		done:         make(chan struct{}),
		pollInterval: defaultPollInterval,
	}
}

// SetTelemetry enables per-cycle telemetry. Call before Run.
func (r *Runner) SetTelemetry(t Telemetry) {
	r.telemetry = t
}

// Dispatcher returns the command dispatcher.
func (r *Runner) Dispatcher() *command.Dispatcher {
	return r.dispatcher
}

// HandleMessage queues an inbound command for the command loop. It has the
// mqtt.MessageHandler signature and blocks while the inbox is full.
func (r *Runner) HandleMessage(topic string, payload []byte) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	msg := inbound{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case r.inbox <- msg:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

// Subscribe routes this device's commands into the command loop.
func (r *Runner) Subscribe(s Subscriber, qos byte) error {
	filter := r.topics.CommandSubscription(r.core.Name())
	if err := s.Subscribe(filter, qos, r.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	r.logger.Info("subscribed to commands", "topic", filter, "qos", qos)
	return nil
}

// Run starts both loops and blocks until ctx is cancelled or a loop fails.
// Cancellation is a clean stop and returns nil. Run must be called once.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.commandLoop(gctx) })
	g.Go(func() error { return r.samplingLoop(gctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// =============================================================================
// Command loop
// =============================================================================

func (r *Runner) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-r.inbox:
			r.handle(msg)
		}
	}
}

func (r *Runner) handle(msg inbound) {
	out, err := r.dispatcher.Dispatch(msg.topic, msg.payload)
	if err != nil || out == nil {
		return
	}

	if err := r.transport.Publish(out.Topic, out.Payload, out.QoS, false); err != nil {
		r.logger.Warn("publishing command answer", "topic", out.Topic, "error", err)
		return
	}

	if r.telemetry != nil && out.Topic == r.topics.LatencyBench(r.core.Name()) {
		var export command.LatencyBenchExport
		if err := json.Unmarshal(out.Payload, &export); err == nil {
			r.telemetry.WriteLatencyBench(influxdb.LatencyBench{
				Device:           r.core.Name(),
				ReadingUUID:      export.ReadingUUID,
				InferenceLatency: export.InferenceLatency,
			})
		}
	}
}

// =============================================================================
// Sampling loop
// =============================================================================

func (r *Runner) samplingLoop(ctx context.Context) error {
	for {
		if err := r.waitConnected(ctx); err != nil {
			return err
		}

		r.step()

		if err := r.sleep(ctx); err != nil {
			return err
		}
	}
}

// waitConnected polls the transport until it reports connected.
func (r *Runner) waitConnected(ctx context.Context) error {
	if r.transport.IsConnected() {
		return nil
	}

	r.logger.Debug("waiting for broker connection")
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.transport.IsConnected() {
				return nil
			}
		}
	}
}

// step performs the state-dependent part of one iteration.
func (r *Runner) step() {
	switch state := r.core.State(); state {
	case lifecycle.StateInitial:
		if _, err := r.core.Trigger(lifecycle.EventStartup); err != nil {
			r.logger.Warn("startup failed", "error", err)
		}
	case lifecycle.StateError:
		if _, err := r.core.Trigger(lifecycle.EventReset); err != nil {
			r.logger.Warn("reset failed", "error", err)
		}
	case lifecycle.StateWorking:
		if err := r.publishSample(); err != nil {
			r.logger.Warn("publishing sensor data", "error", err)
		}
	default:
		r.logger.Debug("not working, skipping sample", "state", state)
	}
}

func (r *Runner) publishSample() error {
	export := r.core.Sample()

	payload, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("encoding sensor data: %w", err)
	}
	if err := r.transport.Publish(r.topics.SensorData(r.core.Name()), payload, QoSSensorData, false); err != nil {
		return err
	}

	if r.telemetry != nil {
		r.telemetry.WriteSensorCycle(influxdb.SensorCycle{
			Device:         r.core.Name(),
			Cycle:          r.core.Cycle().Cycles(),
			InferenceLayer: export.InferenceDescriptor.InferenceLayer,
			LowBattery:     export.LowBattery,
			Prediction:     export.InferenceDescriptor.Prediction,
		})
	}
	return nil
}

// sleep runs one deep sleep. Transport errors are logged and the loop goes
// on; only ctx cancellation ends it.
func (r *Runner) sleep(ctx context.Context) error {
	cycle := r.core.Cycle()
	cfg := r.core.SensorConfig()
	before := cycle.Cycles()

	r.logger.Debug("entering deep sleep", "sleep_ms", cfg.EffectiveMs, "cycle", before)
	err := cycle.DeepSleep(ctx, r.transport, cfg.Duration())
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if after := cycle.Cycles(); after > before {
		battery := cycle.Battery()
		metrics.ObserveCycle(battery.Remaining(after), battery.IsLow(after))
		r.logger.Debug("woke up", "cycle", after)
	}

	if err != nil {
		r.logger.Warn("deep sleep", "error", err)
		// Back off so a failing suspend does not spin.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
	return nil
}
