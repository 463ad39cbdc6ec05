// Package device is the edge sensor node itself.
//
// Core owns the lifecycle machine, the inference policy with its prediction
// history and model, the sleep configuration and the battery cycle counter.
// It is shared by two goroutines: the command loop, which applies remote
// commands in arrival order, and the sampling loop, which measures, predicts,
// publishes and sleeps.
//
// # Locking
//
// Core uses three independent mutexes:
//
//   - stateMu guards the lifecycle machine
//   - inferMu guards the policy, the prediction history and the model
//   - configMu guards the sleep configuration
//
// No method holds more than one of them at a time. A method that needs the
// lifecycle state to decide whether it may act reads it, releases stateMu and
// only then takes its own lock. The state may change in between; acting on a
// value that is one step stale is accepted. Prediction runs with no lock
// held, and so does the deep sleep.
//
// # Usage
//
//	core, err := device.NewCore(device.Config{...})
//	runner := device.NewRunner(core, client, logger)
//	client.Subscribe(topics.CommandSubscription(core.Name()), 1, runner.HandleMessage)
//	err = runner.Run(ctx)
package device
