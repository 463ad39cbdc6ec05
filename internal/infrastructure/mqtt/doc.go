// Package mqtt wraps paho.mqtt.golang for the sensor node and the bench tools.
//
// The client differs from a long-lived service connection in one respect:
// a sensor tears its connection down for every deep sleep (Suspend) and
// brings it back on wake (Resume). The session is persistent by default
// (clean_session false), so commands published while the node sleeps are
// queued by the broker and delivered after Resume.
//
// Topic grammar, with D the device name:
//
//	command/D/{resource}/{method}/{correlationId}   inbound commands
//	response/D/{resource}/get/{correlationId}       GET responses
//	export/D/sensor-data                            per-cycle export
//	export/D/inf-latency-bench                      latency benchmark export
//
// Usage:
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe(mqtt.Topics{}.CommandSubscription(name), 1, handler)
package mqtt
