// Package logging wraps log/slog with the node's default fields.
//
// Every entry carries the service name (esn-sensor, esn-fleet or esn-bench)
// and the build version. Components add their own tag with With:
//
//	log := logger.With("component", "runner", "device", name)
//	log.Info("cycle published", "layer", layer)
//
// Configuration comes from the logging section of the YAML file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Model blobs and broker credentials are never logged; log their size or
// presence instead.
package logging
