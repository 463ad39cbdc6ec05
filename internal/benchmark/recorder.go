package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/command"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/mqtt"
)

const insertTimeout = 5 * time.Second

// Recorder stores latency answers as they arrive.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewRecorder returns a recorder writing to repo.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger.With("component", "recorder"),
		now:    time.Now,
	}
}

// HandleMessage is the mqtt.MessageHandler for export/+/inf-latency-bench.
func (r *Recorder) HandleMessage(topic string, payload []byte) error {
	sensor, ok := mqtt.DeviceFromExport(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var export command.LatencyBenchExport
	if err := json.Unmarshal(payload, &export); err != nil {
		return fmt.Errorf("decoding latency export from %s: %w", sensor, err)
	}
	if export.ReadingUUID == "" {
		return fmt.Errorf("latency export from %s has no reading_uuid", sensor)
	}

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	sample := Sample{
		SensorName:       sensor,
		ReadingUUID:      export.ReadingUUID,
		SendTimestamp:    export.SendTimestamp,
		RecvTimestamp:    export.RecvTimestamp,
		InferenceLatency: export.InferenceLatency,
		RegisteredAt:     r.now(),
	}
	if err := r.repo.Insert(ctx, sample); err != nil {
		return err
	}

	r.logger.Debug("latency sample recorded",
		"sensor", sensor,
		"reading_uuid", export.ReadingUUID,
		"latency_us", export.InferenceLatency,
	)
	return nil
}
