package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/esn-edge-sensor/internal/command"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/mqtt"
)

// QoSProbe is the QoS of probe commands.
const QoSProbe byte = 1

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Prober periodically sends latency probes to a set of devices.
type Prober struct {
	publisher Publisher
	devices   []string
	interval  time.Duration
	logger    *logging.Logger
	topics    mqtt.Topics

	newID func() string
	now   func() time.Time
}

// NewProber returns a prober for devices.
func NewProber(p Publisher, devices []string, interval time.Duration, logger *logging.Logger) *Prober {
	return &Prober{
		publisher: p,
		devices:   devices,
		interval:  interval,
		logger:    logger.With("component", "prober"),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// Run probes every device once per interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("probe interval must be positive, got %s", p.interval)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.ProbeAll(); err != nil {
			p.logger.Warn("probe round incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProbeAll sends one probe to every device. Failures are joined.
func (p *Prober) ProbeAll() error {
	var errs []error
	for _, device := range p.devices {
		if err := p.Probe(device); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Probe sends one probe and returns after the publish completes.
func (p *Prober) Probe(device string) error {
	id := p.newID()
	payload, err := json.Marshal(map[command.Resource]command.LatencyBenchValue{
		command.ResourceLatencyBench: {
			ReadingUUID:   id,
			SendTimestamp: p.now().UnixMicro(),
		},
	})
	if err != nil {
		return fmt.Errorf("encoding probe: %w", err)
	}

	topic := p.topics.Command(device, string(command.ResourceLatencyBench), string(command.MethodSet), id)
	if err := p.publisher.Publish(topic, payload, QoSProbe, false); err != nil {
		return fmt.Errorf("probing %s: %w", device, err)
	}
	return nil
}
