package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/autocal"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
)

type mockSource struct {
	mu      sync.Mutex
	running bool
	calls   []string
}

func (s *mockSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "start")
	s.running = true
	return nil
}

func (s *mockSource) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stop")
	s.running = false
	return nil
}

func (s *mockSource) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *mockSource) Calibrate(_ context.Context, channel string, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "calibrate:"+channel)
	return nil
}

func (s *mockSource) Exposure(context.Context, string) (int, error) { return 2, nil }

func (s *mockSource) SetExposure(_ context.Context, channel string, ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "exposure")
	return nil
}

type mockAutocal struct {
	mu       sync.Mutex
	state    autocal.State
	started  []autocal.Config
	aborted  int
	startErr error
	abortErr error
}

func (a *mockAutocal) Start(cfg autocal.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.started = append(a.started, cfg)
	return nil
}

func (a *mockAutocal) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abortErr != nil {
		return a.abortErr
	}
	a.aborted++
	return nil
}

func (a *mockAutocal) Status() autocal.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state
	if st == "" {
		st = autocal.StateMonitoring
	}
	return autocal.Status{State: st}
}

func testDispatcher() (*Dispatcher, *mockSource, *mockAutocal) {
	src := &mockSource{}
	auto := &mockAutocal{}
	sink := lock.NewSimSink(-10, 10, -10, 10)
	ctl := lock.New(lock.Config{ID: "laser1", Channel: "1", Kp: 0.5, Ki: 0.1, Setpoint: 500000}, sink)
	d := New(src, auto, map[string]*lock.Controller{"laser1": ctl})
	return d, src, auto
}

func TestStartStop_DelegatesToSource(t *testing.T) {
	d, src, _ := testDispatcher()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsRunning() {
		t.Error("expected running after start")
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.IsRunning() {
		t.Error("expected stopped after stop")
	}
}

func TestCalibrate_RejectedDuringAutocalSequence(t *testing.T) {
	d, src, auto := testDispatcher()

	for _, st := range []autocal.State{autocal.StateStopping, autocal.StateCalibrating, autocal.StateResuming} {
		auto.mu.Lock()
		auto.state = st
		auto.mu.Unlock()
		if err := d.Calibrate(context.Background(), "2", 563260.2); !errors.Is(err, ErrCommandRejected) {
			t.Errorf("state %q: expected ErrCommandRejected, got %v", st, err)
		}
	}

	auto.mu.Lock()
	auto.state = autocal.StateCountingDown
	auto.mu.Unlock()
	if err := d.Calibrate(context.Background(), "2", 563260.2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.calls) != 1 || src.calls[0] != "calibrate:2" {
		t.Errorf("expected direct calibrate call, got %v", src.calls)
	}
}

func TestStartAutocal_RequiresConfig(t *testing.T) {
	d, _, auto := testDispatcher()

	if err := d.StartAutocal(); !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected without config, got %v", err)
	}

	cfg := autocal.Config{Channel: "2", ExpectedValue: 563260.2, Threshold: 0.00005, Countdown: 600}
	d.ConfigureAutocal(cfg)
	if err := d.StartAutocal(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auto.mu.Lock()
	defer auto.mu.Unlock()
	if len(auto.started) != 1 || auto.started[0].Channel != "2" {
		t.Errorf("expected stored config passed through, got %v", auto.started)
	}
}

func TestStartAutocal_MapsCycleActive(t *testing.T) {
	d, _, auto := testDispatcher()
	auto.startErr = autocal.ErrCycleActive

	d.ConfigureAutocal(autocal.Config{Channel: "2", Countdown: 1})
	if err := d.StartAutocal(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("expected ErrCommandRejected, got %v", err)
	}
}

func TestAbortAutocal_MapsNoCycle(t *testing.T) {
	d, _, auto := testDispatcher()
	auto.abortErr = autocal.ErrNoCycle

	if err := d.AbortAutocal(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("expected ErrCommandRejected, got %v", err)
	}

	auto.abortErr = nil
	if err := d.AbortAutocal(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLockCommands_UnknownLock(t *testing.T) {
	d, _, _ := testDispatcher()

	if err := d.EnableLock("nope"); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("expected ErrUnknownLock, got %v", err)
	}
	if err := d.SetSetpoint("nope", 1); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("expected ErrUnknownLock, got %v", err)
	}
	if _, err := d.SetAuxOutput(context.Background(), "nope", 1); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("expected ErrUnknownLock, got %v", err)
	}
}

func TestLockCommands_Delegate(t *testing.T) {
	d, _, _ := testDispatcher()

	if err := d.EnableLock("laser1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.SetSetpoint("laser1", 500000.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.SetGains("laser1", 0.25, 0.05); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.StartScan("laser1", 0.5, time.Second, lock.WaveTriangle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sts := d.LockStatuses()
	if len(sts) != 1 {
		t.Fatalf("expected 1 lock status, got %d", len(sts))
	}
	st := sts[0]
	if st.Mode != lock.ModeScanning || st.Setpoint != 500000.5 || st.Kp != 0.25 {
		t.Errorf("unexpected status %+v", st)
	}

	if err := d.StopScan("laser1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.DisableLock("laser1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartScan_RejectionMapped(t *testing.T) {
	d, _, _ := testDispatcher()

	// Lock is idle, so the controller refuses the scan.
	if err := d.StartScan("laser1", 0.5, time.Second, lock.WaveTriangle); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("expected ErrCommandRejected, got %v", err)
	}
}

func TestSetAuxOutput_RejectionMapped(t *testing.T) {
	d, _, _ := testDispatcher()

	if _, err := d.SetAuxOutput(context.Background(), "laser1", 50); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("expected ErrCommandRejected for out-of-range value, got %v", err)
	}
	if v, err := d.SetAuxOutput(context.Background(), "laser1", 5); err != nil || v != 5 {
		t.Errorf("expected applied value 5, got %v, %v", v, err)
	}
}
