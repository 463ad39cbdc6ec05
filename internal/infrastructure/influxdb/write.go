package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSensorCycle      = "sensor_cycle"
	MeasurementInferenceLatency = "inference_latency"
)

// SensorCycle describes one published sensor export.
type SensorCycle struct {
	Device         string
	Cycle          uint64
	InferenceLayer int
	LowBattery     bool

	// Prediction is nil when the sensor did not predict locally.
	Prediction *int
}

// LatencyBench describes one latency benchmark answer. InferenceLatency is
// in microseconds.
type LatencyBench struct {
	Device           string
	ReadingUUID      string
	InferenceLatency int64
}

// WriteSensorCycle records a sensor_cycle point.
func (c *Client) WriteSensorCycle(rec SensorCycle) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sensorCyclePoint(rec, time.Now()))
}

// WriteLatencyBench records an inference_latency point.
func (c *Client) WriteLatencyBench(rec LatencyBench) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(latencyBenchPoint(rec, time.Now()))
}

// WritePoint writes a custom point stamped now.
//
//	client.WritePoint("bench_probe",
//	    map[string]string{"device": "ESP32_0A1B2C"},
//	    map[string]interface{}{"sent": 1})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func sensorCyclePoint(rec SensorCycle, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		// #nosec G115 -- cycle counts stay far below MaxInt64
		"cycle":           int64(rec.Cycle),
		"inference_layer": rec.InferenceLayer,
		"low_battery":     rec.LowBattery,
	}
	if rec.Prediction != nil {
		fields["prediction"] = *rec.Prediction
	}
	return write.NewPoint(
		MeasurementSensorCycle,
		map[string]string{"device": rec.Device},
		fields,
		ts,
	)
}

func latencyBenchPoint(rec LatencyBench, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementInferenceLatency,
		map[string]string{"device": rec.Device},
		map[string]interface{}{
			"reading_uuid":         rec.ReadingUUID,
			"inference_latency_us": rec.InferenceLatency,
		},
		ts,
	)
}
