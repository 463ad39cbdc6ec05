// Package fleet runs many simulated sensor nodes on one host.
//
// Device names are loaded from a JSON file or generated (ESP32_ followed by
// six upper-case hex digits) and saved for the next run. Each device runs as
// its own esnsensor process in a separate process group, with DEVICE_NAME
// and optionally ESN_STATUS_LISTEN set in its environment.
//
//	names, err := fleet.ResolveNames("devices.json", 10, rng)
//	f, err := fleet.New(cfg.Fleet, names, os.Stdout, logger)
//	err = f.Run(ctx) // blocks until ctx is cancelled, then stops every child
//
// A crashed device is restarted after RestartDelay, up to MaxRestartAttempts.
// Stop sends SIGTERM to each process group and SIGKILL once the stop timeout
// passes; Fleet.Stop fans out over all devices and returns when every child
// has exited.
package fleet
