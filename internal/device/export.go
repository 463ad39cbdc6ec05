package device

import "github.com/nerrad567/esn-edge-sensor/internal/dataset"

// SensorDataExport is published on export/{device}/sensor-data.
type SensorDataExport struct {
	LowBattery          bool                `json:"low_battery"`
	SensorReading       SensorReading       `json:"sensor_reading"`
	InferenceDescriptor InferenceDescriptor `json:"inference_descriptor"`
}

// SensorReading carries one measurement sequence, N rows of six axes.
type SensorReading struct {
	Values dataset.Sequence `json:"values"`
}

// InferenceDescriptor tells the upstream tiers where inference happened.
// Timestamps are Unix microseconds. RecvTimestamp and Prediction are only
// set when the sensor predicted locally.
type InferenceDescriptor struct {
	InferenceLayer int    `json:"inference_layer"`
	SendTimestamp  int64  `json:"send_timestamp"`
	RecvTimestamp  *int64 `json:"recv_timestamp,omitempty"`
	Prediction     *int   `json:"prediction,omitempty"`
}
