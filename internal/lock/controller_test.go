package lock

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/measurement"
)

type mockSink struct {
	mu      sync.Mutex
	min     float64
	max     float64
	auxMin  float64
	auxMax  float64
	outputs []float64
	aux     []float64
	fail    error
}

func newMockSink(min, max float64) *mockSink {
	return &mockSink{min: min, max: max, auxMin: min, auxMax: max}
}

func (s *mockSink) SetOutput(_ context.Context, v float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	s.outputs = append(s.outputs, v)
	return v, nil
}

func (s *mockSink) SetAux(_ context.Context, v float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux = append(s.aux, v)
	return v, nil
}

func (s *mockSink) Limits() (float64, float64)    { return s.min, s.max }
func (s *mockSink) AuxLimits() (float64, float64) { return s.auxMin, s.auxMax }

func (s *mockSink) calls() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.outputs))
	copy(out, s.outputs)
	return out
}

func (s *mockSink) last() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outputs) == 0 {
		return 0, false
	}
	return s.outputs[len(s.outputs)-1], true
}

func testController(sink OutputSink) *Controller {
	return New(Config{
		ID:       "laser1",
		Channel:  "1",
		Kp:       0.5,
		Ki:       0.1,
		Setpoint: 500000,
	}, sink)
}

func meas(ch string, value float64, ts time.Time) measurement.Measurement {
	return measurement.Measurement{Channel: ch, Timestamp: ts, Value: value, Unit: "GHz", Valid: true}
}

func TestUpdate_IgnoresWhileIdle(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(100*time.Millisecond)))

	if calls := sink.calls(); len(calls) != 0 {
		t.Errorf("expected no sink calls while idle, got %v", calls)
	}
}

func TestUpdate_IgnoresOtherChannelsAndInvalid(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("2", 499999.9, t0))
	m := meas("1", -4, t0)
	m.Valid = false
	c.Update(context.Background(), m)

	if calls := sink.calls(); len(calls) != 0 {
		t.Errorf("expected no sink calls, got %v", calls)
	}
}

func TestUpdate_FirstMeasurementOnlyAnchors(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	c.Update(context.Background(), meas("1", 499999.9, time.Now()))

	if calls := sink.calls(); len(calls) != 0 {
		t.Errorf("expected no output on first measurement, got %v", calls)
	}
}

func TestUpdate_PIStep(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(100*time.Millisecond)))

	// err = 0.1, dt = 0.1s: P = 0.5*0.1 = 0.05, I = 0.1*0.1*0.1 = 0.001.
	calls := sink.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 sink call, got %d", len(calls))
	}
	if want := 0.051; math.Abs(calls[0]-want) > 1e-12 {
		t.Errorf("expected output %v, got %v", want, calls[0])
	}

	st := c.Status()
	if math.Abs(st.Integrator-0.001) > 1e-12 {
		t.Errorf("expected integrator 0.001, got %v", st.Integrator)
	}
	if math.Abs(st.LastError-0.1) > 1e-12 {
		t.Errorf("expected last error 0.1, got %v", st.LastError)
	}
}

func TestUpdate_ErrorShrinksAsValueApproachesSetpoint(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	values := []float64{499999.8, 499999.85, 499999.9, 499999.95, 499999.99}
	var errs []float64
	for i, v := range values {
		c.Update(context.Background(), meas("1", v, t0.Add(time.Duration(i)*100*time.Millisecond)))
		errs = append(errs, c.Status().LastError)
	}

	for i := 2; i < len(errs); i++ {
		if errs[i] >= errs[i-1] {
			t.Errorf("expected error to shrink, got %v then %v", errs[i-1], errs[i])
		}
	}
}

func TestUpdate_SkipsNonPositiveDT(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(-time.Second)))

	if calls := sink.calls(); len(calls) != 0 {
		t.Errorf("expected no sink calls for non-positive dt, got %v", calls)
	}
}

func TestUpdate_ReanchorsAfterLongGap(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := New(Config{
		ID: "laser1", Channel: "1", Kp: 0.5, Ki: 0.1,
		Setpoint: 500000, MaxUpdateInterval: time.Second,
	}, sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(5*time.Second)))

	if calls := sink.calls(); len(calls) != 0 {
		t.Errorf("expected no output across long gap, got %v", calls)
	}
	if st := c.Status(); st.Integrator != 0 {
		t.Errorf("expected frozen integrator, got %v", st.Integrator)
	}

	// Next update integrates over the short gap only.
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(5100*time.Millisecond)))
	calls := sink.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 sink call after re-anchor, got %d", len(calls))
	}
	if want := 0.051; math.Abs(calls[0]-want) > 1e-12 {
		t.Errorf("expected output %v, got %v", want, calls[0])
	}
}

func TestUpdate_RailsClampAndFreeze(t *testing.T) {
	sink := newMockSink(-1, 1)
	c := testController(sink)

	var alerts []Alert
	var alertMu sync.Mutex
	c.SetOnRail(func(a Alert) {
		alertMu.Lock()
		alerts = append(alerts, a)
		alertMu.Unlock()
	})
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499990, t0))
	// err = 10 drives the output far past the +1 rail.
	c.Update(context.Background(), meas("1", 499990, t0.Add(100*time.Millisecond)))
	c.Update(context.Background(), meas("1", 499990, t0.Add(200*time.Millisecond)))

	calls := sink.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sink calls, got %d", len(calls))
	}
	for _, v := range calls {
		if v != 1 {
			t.Errorf("expected output clamped to 1, got %v", v)
		}
	}

	st := c.Status()
	if st.Mode != ModeRailed {
		t.Errorf("expected mode %q, got %q", ModeRailed, st.Mode)
	}
	if st.Integrator != 0 {
		t.Errorf("expected integrator frozen at 0, got %v", st.Integrator)
	}

	alertMu.Lock()
	n := len(alerts)
	alertMu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly 1 alert for the transition, got %d", n)
	}
	if !alerts[0].High || alerts[0].LockID != "laser1" {
		t.Errorf("unexpected alert %+v", alerts[0])
	}
}

func TestUpdate_RecoversFromRail(t *testing.T) {
	sink := newMockSink(-1, 1)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499990, t0))
	c.Update(context.Background(), meas("1", 499990, t0.Add(100*time.Millisecond)))
	if st := c.Status(); st.Mode != ModeRailed {
		t.Fatalf("expected railed, got %q", st.Mode)
	}

	// Value back near the setpoint brings the output inside the rails.
	c.Update(context.Background(), meas("1", 500000, t0.Add(200*time.Millisecond)))
	if st := c.Status(); st.Mode != ModeLocking {
		t.Errorf("expected mode restored to %q, got %q", ModeLocking, st.Mode)
	}
}

func TestUpdate_SinkErrorDoesNotAdvanceLastOutput(t *testing.T) {
	sink := newMockSink(-10, 10)
	sink.fail = errors.New("dac offline")
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(100*time.Millisecond)))

	if st := c.Status(); st.LastOutput != 0 {
		t.Errorf("expected last output unchanged, got %v", st.LastOutput)
	}
}

func TestStartScan_Validation(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)

	if err := c.StartScan(0.5, time.Second, WaveTriangle); !errors.Is(err, ErrNotLocking) {
		t.Errorf("expected ErrNotLocking while idle, got %v", err)
	}

	c.Enable()
	if err := c.StartScan(-1, time.Second, WaveTriangle); !errors.Is(err, ErrInvalidScan) {
		t.Errorf("expected ErrInvalidScan for negative amplitude, got %v", err)
	}
	if err := c.StartScan(0.5, 0, WaveTriangle); !errors.Is(err, ErrInvalidScan) {
		t.Errorf("expected ErrInvalidScan for zero period, got %v", err)
	}
	if err := c.StartScan(0.5, time.Second, Waveform("square")); !errors.Is(err, ErrInvalidScan) {
		t.Errorf("expected ErrInvalidScan for unknown waveform, got %v", err)
	}

	if err := c.StartScan(0.5, time.Second, WaveTriangle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := c.Status(); st.Mode != ModeScanning || st.Scan == nil {
		t.Errorf("expected scanning with scan status, got %+v", st)
	}
}

func TestStopScan_RestoresLocking(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	if err := c.StartScan(0.5, time.Second, WaveSawtoothUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.StopScan()
	c.StopScan()

	if st := c.Status(); st.Mode != ModeLocking || st.Scan != nil {
		t.Errorf("expected locking with no scan, got %+v", st)
	}
}

func TestScan_ShiftsSetpointDeterministically(t *testing.T) {
	sink := newMockSink(-100, 100)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 500000, t0))

	if err := c.StartScan(2, time.Second, WaveSawtoothUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.mu.Lock()
	c.scan.Start = t0
	c.mu.Unlock()

	// At a quarter period a rising sawtooth sits at -A/2, so the effective
	// setpoint is 499999 and the error against value 500000 is -1.
	c.Update(context.Background(), meas("1", 500000, t0.Add(250*time.Millisecond)))
	if st := c.Status(); math.Abs(st.LastError-(-1)) > 1e-9 {
		t.Errorf("expected error -1 at quarter period, got %v", st.LastError)
	}
}

func TestSetAuxOutput_BoundsChecked(t *testing.T) {
	sink := newMockSink(-5, 5)
	c := testController(sink)

	if _, err := c.SetAuxOutput(context.Background(), 6); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	v, err := c.SetAuxOutput(context.Background(), 2.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2.5 {
		t.Errorf("expected applied value 2.5, got %v", v)
	}
}

func TestSetGains_RejectsNonFinite(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)

	if err := c.SetGains(math.NaN(), 0.1); !errors.Is(err, ErrInvalidGains) {
		t.Errorf("expected ErrInvalidGains for NaN, got %v", err)
	}
	if err := c.SetGains(0.5, math.Inf(1)); !errors.Is(err, ErrInvalidGains) {
		t.Errorf("expected ErrInvalidGains for Inf, got %v", err)
	}
	if err := c.SetGains(0.25, 0.05); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	st := c.Status()
	if st.Kp != 0.25 || st.Ki != 0.05 {
		t.Errorf("expected gains applied, got kp=%v ki=%v", st.Kp, st.Ki)
	}
}

func TestEnable_ResetsIntegrator(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 499999.9, t0))
	c.Update(context.Background(), meas("1", 499999.9, t0.Add(100*time.Millisecond)))
	if st := c.Status(); st.Integrator == 0 {
		t.Fatal("expected non-zero integrator after a step")
	}

	c.Disable()
	c.Enable()
	if st := c.Status(); st.Integrator != 0 {
		t.Errorf("expected integrator reset on enable, got %v", st.Integrator)
	}
}

func TestMeasureSensitivity_RejectsWrongMode(t *testing.T) {
	sink := newMockSink(-10, 10)
	c := testController(sink)

	if _, err := c.MeasureSensitivity(context.Background(), 0.1, time.Millisecond); !errors.Is(err, ErrNotLocking) {
		t.Errorf("expected ErrNotLocking while idle, got %v", err)
	}

	c.Enable()
	if err := c.StartScan(0.5, time.Second, WaveTriangle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.MeasureSensitivity(context.Background(), 0.1, time.Millisecond); !errors.Is(err, ErrNotLocking) {
		t.Errorf("expected ErrNotLocking while scanning, got %v", err)
	}
}

func TestMeasureSensitivity_StepsAndRestores(t *testing.T) {
	sink := newMockSink(-100, 100)
	c := testController(sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 500000, t0))
	c.Update(context.Background(), meas("1", 500000, t0.Add(100*time.Millisecond)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts := t0.Add(200 * time.Millisecond)
		for i := 0; i < 10; i++ {
			time.Sleep(10 * time.Millisecond)
			ts = ts.Add(100 * time.Millisecond)
			c.Update(context.Background(), meas("1", 500000, ts))
		}
	}()

	sens, err := c.MeasureSensitivity(context.Background(), 1.0, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done

	if sens <= 0 {
		t.Errorf("expected positive sensitivity for a positive step, got %v", sens)
	}
	st := c.Status()
	if st.Sensitivity != sens {
		t.Errorf("expected measured sensitivity stored, got %v want %v", st.Sensitivity, sens)
	}
	if st.Setpoint != 500000 {
		t.Errorf("expected setpoint restored to 500000, got %v", st.Setpoint)
	}
}

func TestMeasureSensitivity_ContextCancelRestoresSetpoint(t *testing.T) {
	sink := newMockSink(-100, 100)
	c := testController(sink)
	c.Enable()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.MeasureSensitivity(ctx, 1.0, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sp := c.Setpoint(); sp != 500000 {
		t.Errorf("expected setpoint restored, got %v", sp)
	}
}

func TestFeedforward_AddsSetpointRateTerm(t *testing.T) {
	sink := newMockSink(-100, 100)
	c := New(Config{
		ID: "laser1", Channel: "1", Kp: 0, Ki: 0,
		Setpoint: 500000, Sensitivity: 2.0,
	}, sink)
	c.Enable()

	t0 := time.Now()
	c.Update(context.Background(), meas("1", 500000, t0))
	c.SetSetpoint(500000.5)
	c.Update(context.Background(), meas("1", 500000.5, t0.Add(100*time.Millisecond)))

	// Setpoint rose 0.5 over 0.1s: rate 5, ff = 2*5 = 10. Error is zero.
	last, ok := sink.last()
	if !ok {
		t.Fatal("expected a sink call")
	}
	if math.Abs(last-10) > 1e-9 {
		t.Errorf("expected feed-forward output 10, got %v", last)
	}
}
