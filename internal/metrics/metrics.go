// Package metrics exposes the sensor node's Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
)

var (
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esn_cycles_total",
		Help: "Completed sleep/wake cycles",
	})

	BatteryCyclesRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esn_battery_cycles_remaining",
		Help: "Cycles left before the nominal battery lifetime is reached",
	})

	LowBattery = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esn_low_battery",
		Help: "1 when the battery model reports low battery",
	})

	InferenceLayer = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esn_inference_layer",
		Help: "Inference layer used by the last sampling cycle (0 sensor, 1 gateway, 2 cloud)",
	})

	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esn_predictions_total",
		Help: "Local predictions by label",
	}, []string{"label"})

	LayerEscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esn_layer_escalations_total",
		Help: "Autonomous escalations away from the sensor layer",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esn_commands_total",
		Help: "Inbound commands by resource, method and outcome",
	}, []string{"resource", "method", "outcome"})

	LifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "esn_lifecycle_state",
		Help: "1 for the current lifecycle state, 0 otherwise",
	}, []string{"state"})
)

// ObserveCommand counts one inbound command.
func ObserveCommand(resource, method, outcome string) {
	if resource == "" {
		resource = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	CommandsTotal.WithLabelValues(resource, method, outcome).Inc()
}

// ObservePrediction counts one local prediction.
func ObservePrediction(label int) {
	PredictionsTotal.WithLabelValues(strconv.Itoa(label)).Inc()
}

// ObserveCycle records a completed cycle and the resulting battery level.
func ObserveCycle(remaining int64, low bool) {
	CyclesTotal.Inc()
	BatteryCyclesRemaining.Set(float64(remaining))
	LowBattery.Set(boolToFloat(low))
}

// SetLifecycleState marks current as the active state among all.
func SetLifecycleState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		LifecycleState.WithLabelValues(s).Set(v)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
