package device

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/dataset"
	"github.com/nerrad567/esn-edge-sensor/internal/inference"
	"github.com/nerrad567/esn-edge-sensor/internal/infrastructure/logging"
	"github.com/nerrad567/esn-edge-sensor/internal/lifecycle"
	"github.com/nerrad567/esn-edge-sensor/internal/model"
	"github.com/nerrad567/esn-edge-sensor/internal/power"
)

const testName = "ESP32_0A1B2C"

// constPredictor always answers the same label.
type constPredictor struct {
	label int
	err   error
}

func (p constPredictor) Predict(dataset.Sequence) (int, error) { return p.label, p.err }

// maxJitter always draws the largest offset.
type maxJitter struct{}

func (maxJitter) IntN(n int) int { return n - 1 }

func testSource(t *testing.T) *dataset.Source {
	t.Helper()
	seqs := []dataset.Sequence{
		{{1, 2, 3, 4, 5, 6}},
		{{6, 5, 4, 3, 2, 1}},
	}
	src, err := dataset.NewSource(seqs, []int{dataset.LabelGood, dataset.LabelBad})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	return src
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Name: testName,
		Policy: inference.PolicyConfig{
			Adaptive:          true,
			FallbackLayer:     inference.LayerSensor,
			HistoryLength:     2,
			AbnormalLabels:    []int{2, 3},
			AbnormalThreshold: 2,
		},
		Battery:         power.Battery{LifetimeCycles: 1000, LowThreshold: 0.3},
		SleepIntervalMs: 1000,
		Jitter:          maxJitter{},
		Predictor:       constPredictor{label: dataset.LabelGood},
		Source:          testSource(t),
		Logger:          logging.Nop(),
	}
}

func newTestCore(t *testing.T, cfg Config) *Core {
	t.Helper()
	c, err := NewCore(cfg)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	return c
}

// driveTo moves c from initial to target along table edges.
func driveTo(t *testing.T, c *Core, target lifecycle.State) {
	t.Helper()
	paths := map[lifecycle.State][]lifecycle.Event{
		lifecycle.StateInitial:  nil,
		lifecycle.StateUnlocked: {lifecycle.EventStartup},
		lifecycle.StateLocked:   {lifecycle.EventStartup, lifecycle.EventLockSettings},
		lifecycle.StateWorking:  {lifecycle.EventStartup, lifecycle.EventLockSettings, lifecycle.EventStartSensor},
		lifecycle.StateIdle:     {lifecycle.EventStartup, lifecycle.EventLockSettings, lifecycle.EventStartSensor, lifecycle.EventStopSensor},
		lifecycle.StateError:    {lifecycle.EventError},
	}
	for _, ev := range paths[target] {
		if _, err := c.Trigger(ev); err != nil {
			t.Fatalf("Trigger(%s) error = %v", ev, err)
		}
	}
	if c.State() != target {
		t.Fatalf("State() = %s, want %s", c.State(), target)
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewCore(t *testing.T) {
	c := newTestCore(t, testConfig(t))

	if c.State() != lifecycle.StateInitial {
		t.Errorf("State() = %s, want initial", c.State())
	}
	if got := c.SensorConfig(); got.BaseMs != 1000 || got.EffectiveMs != 1499 {
		t.Errorf("SensorConfig() = %+v, want base 1000 effective 1499", got)
	}
	if c.InferenceLayer() != inference.LayerSensor {
		t.Errorf("InferenceLayer() = %v, want sensor", c.InferenceLayer())
	}
	if !c.HasModel() {
		t.Error("HasModel() = false with an initial predictor")
	}
}

func TestNewCore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"no name", func(c *Config) { c.Name = "" }, ErrNoName},
		{"zero interval", func(c *Config) { c.SleepIntervalMs = 0 }, power.ErrInvalidInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := NewCore(cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewCore() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	cfg := testConfig(t)
	cfg.Source = nil
	if _, err := NewCore(cfg); err == nil {
		t.Error("NewCore() without source succeeded")
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestTrigger_GuardFailureLeavesState(t *testing.T) {
	c := newTestCore(t, testConfig(t))

	if _, err := c.Trigger(lifecycle.EventStartSensor); !errors.Is(err, lifecycle.ErrTransitionNotAllowed) {
		t.Errorf("Trigger(start_sensor) error = %v, want ErrTransitionNotAllowed", err)
	}
	if c.State() != lifecycle.StateInitial {
		t.Errorf("State() = %s, want initial", c.State())
	}
}

// =============================================================================
// Gated Setters
// =============================================================================

func TestSetInferenceLayer_Gates(t *testing.T) {
	tests := []struct {
		adaptive bool
		state    lifecycle.State
		allowed  bool
	}{
		{false, lifecycle.StateUnlocked, true},
		{false, lifecycle.StateWorking, false},
		{false, lifecycle.StateLocked, false},
		{true, lifecycle.StateUnlocked, true},
		{true, lifecycle.StateWorking, true},
		{true, lifecycle.StateIdle, false},
		{true, lifecycle.StateInitial, false},
	}

	for _, tt := range tests {
		name := string(tt.state)
		if tt.adaptive {
			name = "adaptive/" + name
		} else {
			name = "fixed/" + name
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Policy.Adaptive = tt.adaptive
			c := newTestCore(t, cfg)
			driveTo(t, c, tt.state)

			err := c.SetInferenceLayer(inference.LayerCloud)
			if tt.allowed {
				if err != nil {
					t.Fatalf("SetInferenceLayer() error = %v", err)
				}
				if c.InferenceLayer() != inference.LayerCloud {
					t.Errorf("InferenceLayer() = %v, want cloud", c.InferenceLayer())
				}
				return
			}
			if !errors.Is(err, lifecycle.ErrNotPermitted) {
				t.Errorf("SetInferenceLayer() error = %v, want ErrNotPermitted", err)
			}
			if c.InferenceLayer() == inference.LayerCloud {
				t.Error("layer changed despite rejection")
			}
		})
	}
}

func TestSetSensorConfig_Gates(t *testing.T) {
	tests := []struct {
		state   lifecycle.State
		allowed bool
	}{
		{lifecycle.StateUnlocked, true},
		{lifecycle.StateIdle, true},
		{lifecycle.StateLocked, false},
		{lifecycle.StateWorking, false},
		{lifecycle.StateError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			c := newTestCore(t, testConfig(t))
			driveTo(t, c, tt.state)

			err := c.SetSensorConfig(4000)
			got := c.SensorConfig()
			if tt.allowed {
				if err != nil {
					t.Fatalf("SetSensorConfig() error = %v", err)
				}
				if got.BaseMs != 4000 || got.EffectiveMs != 5999 {
					t.Errorf("SensorConfig() = %+v, want base 4000 effective 5999", got)
				}
				return
			}
			if !errors.Is(err, lifecycle.ErrNotPermitted) {
				t.Errorf("SetSensorConfig() error = %v, want ErrNotPermitted", err)
			}
			if got.BaseMs != 1000 {
				t.Errorf("BaseMs = %d after rejection, want 1000", got.BaseMs)
			}
		})
	}
}

func TestSetSensorConfig_InvalidInterval(t *testing.T) {
	c := newTestCore(t, testConfig(t))
	driveTo(t, c, lifecycle.StateUnlocked)

	for _, base := range []int{-5, 10_000_000_000_000} {
		if err := c.SetSensorConfig(base); !errors.Is(err, power.ErrInvalidInterval) {
			t.Errorf("SetSensorConfig(%d) error = %v, want ErrInvalidInterval", base, err)
		}
	}
	if got := c.SensorConfig(); got.BaseMs != 1000 || got.Duration() <= 0 {
		t.Errorf("SensorConfig() = %+v after rejection, want base 1000", got)
	}
}

func TestUpdateModel(t *testing.T) {
	blob := []byte("model-v2")
	b64 := base64.StdEncoding.EncodeToString(blob)

	var loaded []byte
	cfg := testConfig(t)
	cfg.Predictor = nil
	cfg.Loader = model.LoaderFunc(func(b []byte) (model.Predictor, error) {
		loaded = b
		return constPredictor{label: dataset.LabelBad}, nil
	})

	t.Run("working rejected", func(t *testing.T) {
		c := newTestCore(t, cfg)
		driveTo(t, c, lifecycle.StateWorking)
		if err := c.UpdateModel(b64, len(blob)); !errors.Is(err, lifecycle.ErrNotPermitted) {
			t.Errorf("UpdateModel() error = %v, want ErrNotPermitted", err)
		}
		if c.HasModel() {
			t.Error("model loaded while working")
		}
	})

	t.Run("size mismatch rejected", func(t *testing.T) {
		c := newTestCore(t, cfg)
		driveTo(t, c, lifecycle.StateUnlocked)
		if err := c.UpdateModel(b64, len(blob)+1); !errors.Is(err, model.ErrSizeMismatch) {
			t.Errorf("UpdateModel() error = %v, want ErrSizeMismatch", err)
		}
		if c.HasModel() {
			t.Error("model loaded despite size mismatch")
		}
	})

	t.Run("idle accepted", func(t *testing.T) {
		c := newTestCore(t, cfg)
		driveTo(t, c, lifecycle.StateIdle)
		if err := c.UpdateModel(b64, len(blob)); err != nil {
			t.Fatalf("UpdateModel() error = %v", err)
		}
		if string(loaded) != string(blob) {
			t.Errorf("loader got %q, want %q", loaded, blob)
		}

		c.Trigger(lifecycle.EventStartSensor)
		if label, ok := c.Predict(dataset.Sequence{{}}); !ok || label != dataset.LabelBad {
			t.Errorf("Predict() = %d, %v; want new model's label", label, ok)
		}
	})
}

func TestUpdateModel_LoadsOutsideInferenceLock(t *testing.T) {
	blob := []byte("slow-model")
	entered := make(chan struct{})
	release := make(chan struct{})

	cfg := testConfig(t)
	cfg.Loader = model.LoaderFunc(func([]byte) (model.Predictor, error) {
		close(entered)
		<-release
		return constPredictor{label: dataset.LabelBad}, nil
	})
	c := newTestCore(t, cfg)
	driveTo(t, c, lifecycle.StateUnlocked)

	errCh := make(chan error, 1)
	go func() { errCh <- c.UpdateModel(base64.StdEncoding.EncodeToString(blob), len(blob)) }()
	<-entered

	layerCh := make(chan inference.Layer, 1)
	go func() { layerCh <- c.InferenceLayer() }()

	select {
	case <-layerCh:
	case <-time.After(2 * time.Second):
		close(release)
		<-errCh
		<-layerCh
		t.Fatal("InferenceLayer() blocked while a model was loading")
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("UpdateModel() error = %v", err)
	}

	c.Trigger(lifecycle.EventLockSettings)
	c.Trigger(lifecycle.EventStartSensor)
	if label, ok := c.Predict(dataset.Sequence{{}}); !ok || label != dataset.LabelBad {
		t.Errorf("Predict() = %d, %v; want loaded model's label", label, ok)
	}
}

// =============================================================================
// Prediction and Sampling
// =============================================================================

func TestPredict_OnlyWhileWorking(t *testing.T) {
	cfg := testConfig(t)
	cfg.Predictor = constPredictor{label: dataset.LabelBad}
	c := newTestCore(t, cfg)
	driveTo(t, c, lifecycle.StateLocked)

	if _, ok := c.Predict(c.Measure()); ok {
		t.Error("Predict() ok while locked")
	}
	if n := c.policy.History().Samples(); n != 0 {
		t.Errorf("history Samples() = %d after refused prediction, want 0", n)
	}

	c.Trigger(lifecycle.EventStartSensor)
	label, ok := c.Predict(c.Measure())
	if !ok || label != dataset.LabelBad {
		t.Errorf("Predict() = %d, %v; want %d, true", label, ok, dataset.LabelBad)
	}
	if n := c.policy.History().AbnormalCount(); n != 1 {
		t.Errorf("AbnormalCount() = %d, want 1", n)
	}
}

func TestPredict_PredictorErrorOmitsPrediction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Predictor = constPredictor{err: errors.New("boom")}
	c := newTestCore(t, cfg)
	driveTo(t, c, lifecycle.StateWorking)

	if _, ok := c.Predict(c.Measure()); ok {
		t.Error("Predict() ok despite predictor error")
	}
	if n := c.policy.History().Samples(); n != 0 {
		t.Errorf("Samples() = %d, want 0", n)
	}
}

func fixedClock(c *Core) {
	var mu sync.Mutex
	now := time.UnixMicro(1_700_000_000_000_000)
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(250 * time.Microsecond)
		return now
	}
}

func TestSample_SensorLayer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Predictor = constPredictor{label: dataset.LabelAcceptable}
	c := newTestCore(t, cfg)
	fixedClock(c)
	driveTo(t, c, lifecycle.StateWorking)

	export := c.Sample()
	d := export.InferenceDescriptor

	if d.InferenceLayer != int(inference.LayerSensor) {
		t.Errorf("InferenceLayer = %d, want 0", d.InferenceLayer)
	}
	if d.Prediction == nil || *d.Prediction != dataset.LabelAcceptable {
		t.Errorf("Prediction = %v, want %d", d.Prediction, dataset.LabelAcceptable)
	}
	if d.RecvTimestamp == nil || *d.RecvTimestamp-d.SendTimestamp != 250 {
		t.Errorf("timestamps send=%d recv=%v, want recv = send+250", d.SendTimestamp, d.RecvTimestamp)
	}
	if export.LowBattery {
		t.Error("LowBattery = true on a fresh battery")
	}
	if len(export.SensorReading.Values) != 1 || export.SensorReading.Values[0][0] != 1 {
		t.Errorf("Values = %v, want first source sequence", export.SensorReading.Values)
	}
}

func TestSample_UpstreamLayerCarriesOnlySendTimestamp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.Adaptive = false
	cfg.Policy.FallbackLayer = inference.LayerGateway
	c := newTestCore(t, cfg)
	fixedClock(c)
	driveTo(t, c, lifecycle.StateWorking)

	d := c.Sample().InferenceDescriptor
	if d.InferenceLayer != int(inference.LayerGateway) {
		t.Errorf("InferenceLayer = %d, want 1", d.InferenceLayer)
	}
	if d.SendTimestamp == 0 || d.RecvTimestamp != nil || d.Prediction != nil {
		t.Errorf("descriptor = %+v, want send timestamp only", d)
	}
}

func TestSample_AdaptiveEscalation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Predictor = constPredictor{label: dataset.LabelBad}
	c := newTestCore(t, cfg)
	driveTo(t, c, lifecycle.StateWorking)

	// History length 2: two local predictions fill it, the third cycle
	// escalates.
	for i := range 2 {
		if d := c.Sample().InferenceDescriptor; d.InferenceLayer != 0 || d.Prediction == nil {
			t.Fatalf("cycle %d: descriptor = %+v, want local prediction", i, d)
		}
	}

	d := c.Sample().InferenceDescriptor
	if d.InferenceLayer != int(inference.LayerGateway) || d.Prediction != nil {
		t.Errorf("descriptor = %+v, want escalation to gateway", d)
	}
	if n := c.policy.History().Samples(); n != 0 {
		t.Errorf("Samples() = %d after escalation, want 0", n)
	}
	if c.InferenceLayer() != inference.LayerGateway {
		t.Errorf("InferenceLayer() = %v, want gateway", c.InferenceLayer())
	}
}

func TestSample_LowBatteryEscalates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Battery = power.Battery{LifetimeCycles: 10, LowThreshold: 1.5}
	c := newTestCore(t, cfg)
	driveTo(t, c, lifecycle.StateWorking)

	export := c.Sample()
	if !export.LowBattery {
		t.Error("LowBattery = false")
	}
	if export.InferenceDescriptor.InferenceLayer != int(inference.LayerGateway) {
		t.Errorf("InferenceLayer = %d, want gateway", export.InferenceDescriptor.InferenceLayer)
	}
}

func TestStatus(t *testing.T) {
	c := newTestCore(t, testConfig(t))
	driveTo(t, c, lifecycle.StateLocked)

	s := c.Status()
	if s.Device != testName || s.State != lifecycle.StateLocked || s.Cycle != 0 || s.Sleeping || s.LowBattery {
		t.Errorf("Status() = %+v", s)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

// TestCore_ConcurrentAccess exercises both loops' entry points together;
// run with -race.
func TestCore_ConcurrentAccess(t *testing.T) {
	c := newTestCore(t, testConfig(t))
	driveTo(t, c, lifecycle.StateWorking)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			c.Sample()
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 200 {
			_ = c.SetInferenceLayer(inference.Layer(i % 3))
			_ = c.SetSensorConfig(1000 + i)
			_ = c.Status()
			if i%50 == 0 {
				c.Trigger(lifecycle.EventStopSensor)
				c.Trigger(lifecycle.EventStartSensor)
			}
		}
	}()
	wg.Wait()

	if n := c.policy.History().Len(); n > 2 {
		t.Errorf("history Len() = %d exceeds capacity 2", n)
	}
}
