// Package command decodes and applies the remote commands a sensor receives.
//
// A command arrives on command/{device}/{resource}/{method}/{correlationId}
// with a JSON object payload holding exactly one key, the resource name.
// GET commands produce a response; SET commands produce nothing except for
// the latency benchmark, which answers on its export topic.
package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Method is the command verb.
type Method string

const (
	MethodGet Method = "get"
	MethodSet Method = "set"
)

// Resource names a remotely addressable part of the sensor.
type Resource string

const (
	ResourceSensorState    Resource = "sensor-state"
	ResourceInferenceLayer Resource = "inference-layer"
	ResourceSensorConfig   Resource = "sensor-config"
	ResourceSensorModel    Resource = "sensor-model"
	ResourceLatencyBench   Resource = "inf-latency-bench"
)

// Envelope is a decoded inbound command.
type Envelope struct {
	Device        string
	Resource      Resource
	Method        Method
	CorrelationID string

	// Value is the raw JSON under the resource key.
	Value json.RawMessage
}

// ParseTopic splits a command topic into its parts. Method and resource are
// returned unvalidated.
func ParseTopic(topic string) (Envelope, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "command" {
		return Envelope{}, fmt.Errorf("%w: %q", ErrTopicShape, topic)
	}
	for _, p := range parts[1:] {
		if p == "" {
			return Envelope{}, fmt.Errorf("%w: %q", ErrTopicShape, topic)
		}
	}
	return Envelope{
		Device:        parts[1],
		Resource:      Resource(parts[2]),
		Method:        Method(parts[3]),
		CorrelationID: parts[4],
	}, nil
}

// Decode validates an inbound message in this order: topic shape, payload is
// an object with exactly one key, the key equals the topic resource, the
// method is get or set. Whether the pair names a known command is checked by
// the dispatcher.
func Decode(topic string, payload []byte) (Envelope, error) {
	env, err := ParseTopic(topic)
	if err != nil {
		return Envelope{}, err
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		return env, ErrMalformedPayload
	}
	if len(body) != 1 {
		return env, fmt.Errorf("%w: got %d", ErrPayloadKeys, len(body))
	}
	value, ok := body[string(env.Resource)]
	if !ok {
		return env, fmt.Errorf("%w: topic %q", ErrResourceMismatch, env.Resource)
	}
	env.Value = value

	if env.Method != MethodGet && env.Method != MethodSet {
		return env, fmt.Errorf("%w: %q", ErrUnknownMethod, env.Method)
	}

	return env, nil
}
