package command

// SensorConfigValue is the sensor-config resource value.
type SensorConfigValue struct {
	SleepIntervalMs int `json:"sleep_interval_ms"`
}

// SensorModelValue is the sensor-model SET value.
type SensorModelValue struct {
	ModelB64      string `json:"tf_model_b64"`
	ModelByteSize int    `json:"tf_model_bytesize"`
}

// LatencyBenchValue is the inf-latency-bench SET value.
type LatencyBenchValue struct {
	ReadingUUID   string `json:"reading_uuid"`
	SendTimestamp int64  `json:"send_timestamp"`
}

// LatencyBenchExport is published on export/{device}/inf-latency-bench.
// Timestamps are Unix microseconds.
type LatencyBenchExport struct {
	ReadingUUID      string `json:"reading_uuid"`
	SendTimestamp    int64  `json:"send_timestamp"`
	RecvTimestamp    int64  `json:"recv_timestamp"`
	InferenceLatency int64  `json:"inference_latency"`
}
