package inference

// PolicyConfig carries the static policy settings.
type PolicyConfig struct {
	// Adaptive selects the battery/history heuristic instead of the fixed
	// fallback layer.
	Adaptive bool

	// FallbackLayer is the layer reported in fixed mode.
	FallbackLayer Layer

	// HistoryLength is the prediction history capacity and the number of
	// samples required before abnormal counts are considered.
	HistoryLength int

	// AbnormalLabels are the predictor labels counted as abnormal.
	AbnormalLabels []int

	// AbnormalThreshold is the abnormal count that triggers escalation.
	AbnormalThreshold int
}

// Decision is the outcome of one layer evaluation.
type Decision struct {
	Layer Layer

	// Escalated is true when this evaluation moved the committed layer off
	// LayerSensor. History was cleared as part of it.
	Escalated bool
}

// Policy tracks the committed and fallback layers together with the
// prediction history.
//
// Policy is not safe for concurrent use. The device core guards it with the
// inference lock, which also covers the history, so a decision and the
// history reset it causes are a single critical section.
type Policy struct {
	adaptive  bool
	fallback  Layer
	committed Layer
	history   *History
	abnormal  map[int]struct{}
	threshold int
}

// NewPolicy builds a policy. The committed layer starts at LayerSensor.
func NewPolicy(cfg PolicyConfig) *Policy {
	abnormal := make(map[int]struct{}, len(cfg.AbnormalLabels))
	for _, l := range cfg.AbnormalLabels {
		abnormal[l] = struct{}{}
	}
	return &Policy{
		adaptive:  cfg.Adaptive,
		fallback:  cfg.FallbackLayer,
		committed: LayerSensor,
		history:   NewHistory(cfg.HistoryLength),
		abnormal:  abnormal,
		threshold: cfg.AbnormalThreshold,
	}
}

// Adaptive reports whether the heuristic is active.
func (p *Policy) Adaptive() bool { return p.adaptive }

// Layer returns the layer a GET reports: the fallback layer in fixed mode and
// the committed layer in adaptive mode. It never re-evaluates.
func (p *Policy) Layer() Layer {
	if !p.adaptive {
		return p.fallback
	}
	return p.committed
}

// Set stores a layer chosen by a remote command. In fixed mode it replaces the
// fallback layer, in adaptive mode the committed layer. Permission checks
// belong to the caller.
func (p *Policy) Set(l Layer) {
	if !p.adaptive {
		p.fallback = l
		return
	}
	p.committed = l
}

// Current evaluates the layer for a sampling cycle. In adaptive mode the
// heuristic only runs while the committed layer is LayerSensor; a layer
// chosen by escalation or by command is returned as is.
func (p *Policy) Current(lowBattery bool) Decision {
	if !p.adaptive {
		return Decision{Layer: p.fallback}
	}
	if p.committed != LayerSensor {
		return Decision{Layer: p.committed}
	}

	next := Decide(lowBattery, p.history.Samples(), p.history.Cap(), p.history.AbnormalCount(), p.threshold)
	if next == LayerSensor {
		return Decision{Layer: LayerSensor}
	}

	p.history.Reset()
	p.committed = next
	return Decision{Layer: next, Escalated: true}
}

// Record stores the abnormal flag for a predicted label and reports it.
func (p *Policy) Record(label int) bool {
	_, abnormal := p.abnormal[label]
	p.history.Push(abnormal)
	return abnormal
}

// IsAbnormal reports whether label belongs to the abnormal set.
func (p *Policy) IsAbnormal(label int) bool {
	_, ok := p.abnormal[label]
	return ok
}

// History exposes the prediction history for inspection.
func (p *Policy) History() *History { return p.history }

// Decide is the escalation heuristic:
//
//  1. low battery                      -> gateway
//  2. fewer samples than capacity      -> sensor
//  3. abnormal count >= threshold      -> gateway
//  4. otherwise                        -> sensor
func Decide(lowBattery bool, samples, capacity, abnormalCount, threshold int) Layer {
	if lowBattery {
		return LayerGateway
	}
	if samples < capacity {
		return LayerSensor
	}
	if abnormalCount >= threshold {
		return LayerGateway
	}
	return LayerSensor
}
