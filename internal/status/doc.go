// Package status serves the node's health and Prometheus metrics over HTTP.
//
//	srv, err := status.New(status.Deps{Device: core, MQTT: client, Logger: log})
//	if err := srv.Start(ctx, "127.0.0.1:9100"); err != nil { ... }
//	defer srv.Close()
//
// GET /health returns the device status and per-dependency check results as
// JSON. It answers 503 when a check fails, except that a broker connection
// torn down for deep sleep is healthy. GET /metrics is the promhttp handler.
package status
