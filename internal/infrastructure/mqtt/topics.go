package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots.
const (
	TopicPrefixCommand  = "command"
	TopicPrefixResponse = "response"
	TopicPrefixExport   = "export"
)

// Export resource names.
const (
	ExportSensorData   = "sensor-data"
	ExportLatencyBench = "inf-latency-bench"
)

// Topics provides builders for the node's topics.
//
//	topics := mqtt.Topics{}
//	topics.SensorData("ESP32_0A1B2C")
//	// Returns: "export/ESP32_0A1B2C/sensor-data"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// Command returns the topic a command for device is published on.
//
// Example: command/ESP32_0A1B2C/sensor-state/set/6f1c...
func (Topics) Command(device, resource, method, correlationID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefixCommand, device, resource, method, correlationID)
}

// CommandSubscription returns the filter a device subscribes to.
//
// Example: command/ESP32_0A1B2C/+/+/#
func (Topics) CommandSubscription(device string) string {
	return fmt.Sprintf("%s/%s/+/+/#", TopicPrefixCommand, device)
}

// Response returns the topic a GET response is published on.
//
// Example: response/ESP32_0A1B2C/sensor-state/get/6f1c...
func (Topics) Response(device, resource, correlationID string) string {
	return fmt.Sprintf("%s/%s/%s/get/%s", TopicPrefixResponse, device, resource, correlationID)
}

// SensorData returns the per-cycle export topic.
func (Topics) SensorData(device string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixExport, device, ExportSensorData)
}

// LatencyBench returns the latency benchmark export topic.
func (Topics) LatencyBench(device string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixExport, device, ExportLatencyBench)
}

// =============================================================================
// Wildcard Subscriptions
// =============================================================================

// AllLatencyBench matches the benchmark export of every device.
func (Topics) AllLatencyBench() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixExport, ExportLatencyBench)
}

// AllSensorData matches the sensor export of every device.
func (Topics) AllSensorData() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixExport, ExportSensorData)
}

// DeviceFromExport extracts D from export/D/... topics.
func DeviceFromExport(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefixExport || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
