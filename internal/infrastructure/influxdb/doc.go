// Package influxdb writes optional sensor telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// written:
//
//   - sensor_cycle: one point per published sensor export
//   - inference_latency: one point per latency benchmark answer
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorCycle(influxdb.SensorCycle{Device: "ESP32_0A1B2C", Cycle: 3})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write failures are
// reported through the SetOnError callback.
package influxdb
