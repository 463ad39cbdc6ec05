// Package config loads and validates the sensor node configuration.
//
// Values are resolved in this order, later steps winning:
//  1. Built-in defaults
//  2. The YAML file, when a path is given
//  3. Environment variables, including those from a .env file
//
// The .env file (ESN_ENV_FILE, default ".env") never overrides variables
// already present in the process environment. The fleet launcher relies on
// this to hand each child its own DEVICE_NAME.
//
// The sensor keeps the unprefixed environment names existing deployments use
// (MQTT_BROKER_HOST, DEVICE_NAME, ADAPTIVE_INFERENCE, ...). Everything else
// uses the ESN_ prefix.
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("ESN_CONFIG")) // e.g. configs/esn.example.yaml
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	fmt.Println(cfg.Device.Name)
package config
