// Package inference decides where a sensor reading is classified: on the
// sensor itself, on the gateway, or in the cloud.
//
// In fixed mode the answer is a single configured fallback layer. In adaptive
// mode the sensor starts on its own layer and escalates to the gateway when
// the battery runs low or when too many recent local predictions were
// abnormal. Escalation is one-way; only an explicit SET moves the sensor back.
package inference

import (
	"errors"
	"fmt"
)

// Layer identifies the tier that runs inference. The integer values are the
// wire encoding.
type Layer int

const (
	LayerSensor  Layer = 0
	LayerGateway Layer = 1
	LayerCloud   Layer = 2
)

// ErrInvalidLayer is returned by ParseLayer for values outside 0..2.
var ErrInvalidLayer = errors.New("inference: invalid layer")

// ParseLayer validates a wire value.
func ParseLayer(v int) (Layer, error) {
	l := Layer(v)
	if !l.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLayer, v)
	}
	return l, nil
}

// Valid reports whether l is one of the three known layers.
func (l Layer) Valid() bool {
	return l >= LayerSensor && l <= LayerCloud
}

func (l Layer) String() string {
	switch l {
	case LayerSensor:
		return "sensor"
	case LayerGateway:
		return "gateway"
	case LayerCloud:
		return "cloud"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}
