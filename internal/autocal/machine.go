// Package autocal coordinates automated instrument recalibration.
//
// A Machine watches one measurement channel and, once that channel has been
// observed stable near its expected reference value for a configured number
// of readings, suspends measurement, calibrates the instrument against the
// reference and resumes. The guard exists because recalibrating against the
// wrong reference mode corrupts every channel at once; the instrument is
// never left stopped, even when the calibration call itself fails.
package autocal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/measurement"
)

// State is an autocalibration cycle state.
type State string

// Cycle states.
const (
	StateMonitoring   State = "monitoring"
	StateCountingDown State = "counting_down"
	StateVerifying    State = "verifying"
	StateStopping     State = "stopping"
	StateCalibrating  State = "calibrating"
	StateResuming     State = "resuming"
	StateAborted      State = "aborted"
)

// Config describes one calibration cycle. It is consumed by Start and has
// no effect on a cycle already in flight.
type Config struct {
	// Channel is the measurement channel holding the reference laser.
	Channel string `json:"channel"`

	// ExpectedValue is the reference value the channel must sit near.
	ExpectedValue float64 `json:"expected_value"`

	// Threshold is the accepted distance from ExpectedValue.
	Threshold float64 `json:"threshold"`

	// Countdown is the number of readings observed before verification.
	Countdown int `json:"countdown"`

	// Retry reloads the countdown after a failed verification instead of
	// ending the cycle.
	Retry bool `json:"retry"`

	// RetryCountdown is the reloaded countdown on retry. Zero means reuse
	// Countdown.
	RetryCountdown int `json:"retry_countdown"`
}

// Outcome classifies a finished cycle.
type Outcome string

// Cycle outcomes.
const (
	OutcomeCalibrated Outcome = "calibrated"
	OutcomeAborted    Outcome = "aborted"
)

// Result reports a finished cycle to the observer callback.
type Result struct {
	Channel       string    `json:"channel"`
	Outcome       Outcome   `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	MeasuredValue float64   `json:"measured_value"`
	ExpectedValue float64   `json:"expected_value"`
	Threshold     float64   `json:"threshold"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// MeasurementControl is the slice of the measurement source the machine
// drives during a cycle.
type MeasurementControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Calibrate(ctx context.Context, channel string, value float64) error
}

// Logger is the minimal logging interface used by the machine.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Status is a point-in-time machine snapshot.
type Status struct {
	State           State     `json:"state"`
	Config          *Config   `json:"config,omitempty"`
	Remaining       int       `json:"remaining"`
	LastCalibration time.Time `json:"last_calibration,omitempty"`
}

// Machine is the autocalibration state machine.
//
// Observe feeds it measurements; the Stop/Calibrate/Resume sequence runs on
// its own goroutine so the instrument callback path is never blocked by a
// driver call.
type Machine struct {
	control MeasurementControl
	logger  Logger

	cbMu     sync.RWMutex
	onState  func(State)
	onResult func(Result)

	mu        sync.Mutex
	state     State
	cfg       Config
	remaining int
	started   time.Time
	lastCal   time.Time
}

// New creates a Machine in Monitoring state.
func New(control MeasurementControl) *Machine {
	return &Machine{
		control: control,
		logger:  noopLogger{},
		state:   StateMonitoring,
	}
}

// SetLogger sets the machine's logger.
func (m *Machine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// SetOnState installs a callback invoked on every state transition.
func (m *Machine) SetOnState(cb func(State)) {
	m.cbMu.Lock()
	m.onState = cb
	m.cbMu.Unlock()
}

// SetOnResult installs a callback invoked once per finished cycle.
func (m *Machine) SetOnResult(cb func(Result)) {
	m.cbMu.Lock()
	m.onResult = cb
	m.cbMu.Unlock()
}

// Start begins a calibration cycle with the supplied config. Returns
// ErrCycleActive while a cycle is in flight.
func (m *Machine) Start(cfg Config) error {
	if cfg.Channel == "" || cfg.Countdown < 1 || cfg.Threshold < 0 {
		return fmt.Errorf("%w: channel=%q countdown=%d threshold=%v",
			ErrInvalidConfig, cfg.Channel, cfg.Countdown, cfg.Threshold)
	}

	m.mu.Lock()
	if m.state != StateMonitoring {
		m.mu.Unlock()
		return ErrCycleActive
	}
	m.cfg = cfg
	m.remaining = cfg.Countdown
	m.started = time.Now()
	m.state = StateCountingDown
	logger := m.logger
	m.mu.Unlock()

	logger.Info("calibration cycle started",
		"channel", cfg.Channel, "countdown", cfg.Countdown,
		"expected", cfg.ExpectedValue, "threshold", cfg.Threshold)
	m.notifyState(StateCountingDown)
	return nil
}

// Abort cancels the current cycle. Valid only before the instrument
// sequence has begun; once Stop has been issued the cycle runs to its end.
func (m *Machine) Abort() error {
	m.mu.Lock()
	if m.state != StateCountingDown && m.state != StateVerifying {
		m.mu.Unlock()
		return ErrNoCycle
	}
	res := Result{
		Channel:       m.cfg.Channel,
		Outcome:       OutcomeAborted,
		Reason:        "aborted by command",
		ExpectedValue: m.cfg.ExpectedValue,
		Threshold:     m.cfg.Threshold,
		StartedAt:     m.started,
		FinishedAt:    time.Now(),
	}
	m.state = StateMonitoring
	logger := m.logger
	m.mu.Unlock()

	logger.Info("calibration cycle aborted", "channel", res.Channel)
	m.notifyState(StateAborted)
	m.notifyResult(res)
	m.notifyState(StateMonitoring)
	return nil
}

// Observe feeds one measurement to the machine. Measurements for other
// channels, invalid readings and readings outside a countdown are ignored.
func (m *Machine) Observe(meas measurement.Measurement) {
	m.mu.Lock()

	if m.state != StateCountingDown || meas.Channel != m.cfg.Channel || !meas.Valid {
		m.mu.Unlock()
		return
	}

	m.remaining--
	if m.remaining > 0 {
		m.mu.Unlock()
		return
	}

	m.state = StateVerifying
	cfg := m.cfg
	value := meas.Value
	logger := m.logger
	m.mu.Unlock()
	m.notifyState(StateVerifying)

	if math.Abs(value-cfg.ExpectedValue) > cfg.Threshold {
		m.failVerification(cfg, value, logger)
		return
	}

	m.mu.Lock()
	if m.state != StateVerifying {
		// Aborted from under us.
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	m.mu.Unlock()
	m.notifyState(StateStopping)

	// The instrument sequence blocks on driver calls, so it runs off the
	// measurement delivery path.
	go m.runSequence(cfg, value)
}

func (m *Machine) failVerification(cfg Config, value float64, logger Logger) {
	m.mu.Lock()
	if m.state != StateVerifying {
		// Aborted from under us.
		m.mu.Unlock()
		return
	}

	if cfg.Retry {
		reload := cfg.RetryCountdown
		if reload < 1 {
			reload = cfg.Countdown
		}
		m.remaining = reload
		m.state = StateCountingDown
		m.mu.Unlock()

		logger.Warn("calibration verification failed, retrying",
			"channel", cfg.Channel, "value", value,
			"expected", cfg.ExpectedValue, "threshold", cfg.Threshold,
			"retry_countdown", reload)
		m.notifyState(StateCountingDown)
		return
	}

	res := Result{
		Channel:       cfg.Channel,
		Outcome:       OutcomeAborted,
		Reason:        fmt.Sprintf("value %v outside %v ± %v", value, cfg.ExpectedValue, cfg.Threshold),
		MeasuredValue: value,
		ExpectedValue: cfg.ExpectedValue,
		Threshold:     cfg.Threshold,
		StartedAt:     m.started,
		FinishedAt:    time.Now(),
	}
	m.state = StateMonitoring
	m.mu.Unlock()

	logger.Warn("calibration verification failed",
		"channel", cfg.Channel, "value", value,
		"expected", cfg.ExpectedValue, "threshold", cfg.Threshold)
	m.notifyState(StateAborted)
	m.notifyResult(res)
	m.notifyState(StateMonitoring)
}

// runSequence performs Stop, Calibrate, Resume. Measurement is resumed on
// every path through here, calibration success or not.
func (m *Machine) runSequence(cfg Config, value float64) {
	ctx := context.Background()

	m.mu.Lock()
	logger := m.logger
	started := m.started
	m.mu.Unlock()

	finish := func(outcome Outcome, reason string) {
		res := Result{
			Channel:       cfg.Channel,
			Outcome:       outcome,
			Reason:        reason,
			MeasuredValue: value,
			ExpectedValue: cfg.ExpectedValue,
			Threshold:     cfg.Threshold,
			StartedAt:     started,
			FinishedAt:    time.Now(),
		}
		m.mu.Lock()
		if outcome == OutcomeCalibrated {
			m.lastCal = res.FinishedAt
		}
		m.state = StateMonitoring
		m.mu.Unlock()

		if outcome == OutcomeAborted {
			m.notifyState(StateAborted)
		}
		m.notifyResult(res)
		m.notifyState(StateMonitoring)
	}

	if err := m.control.Stop(ctx); err != nil {
		logger.Error("failed to stop measurement for calibration", "error", err)
		finish(OutcomeAborted, fmt.Sprintf("stop measurement: %v", err))
		return
	}

	m.mu.Lock()
	m.state = StateCalibrating
	m.mu.Unlock()
	m.notifyState(StateCalibrating)

	calErr := m.control.Calibrate(ctx, cfg.Channel, cfg.ExpectedValue)
	if calErr != nil {
		logger.Error("instrument calibration failed", "channel", cfg.Channel, "error", calErr)
	} else {
		logger.Info("instrument calibrated", "channel", cfg.Channel, "reference", cfg.ExpectedValue)
	}

	m.mu.Lock()
	m.state = StateResuming
	m.mu.Unlock()
	m.notifyState(StateResuming)

	if err := m.control.Start(ctx); err != nil {
		// The instrument is down; this is beyond what a cycle can repair.
		logger.Error("failed to resume measurement after calibration", "error", err)
		finish(OutcomeAborted, fmt.Sprintf("resume measurement: %v", err))
		return
	}

	if calErr != nil {
		finish(OutcomeAborted, fmt.Sprintf("calibrate: %v", calErr))
		return
	}
	finish(OutcomeCalibrated, "")
}

// State returns the current cycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastCalibration returns the completion time of the last successful cycle,
// or the zero time if none has completed.
func (m *Machine) LastCalibration() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCal
}

// Status returns a snapshot of the machine state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:           m.state,
		Remaining:       m.remaining,
		LastCalibration: m.lastCal,
	}
	if m.state != StateMonitoring {
		cfg := m.cfg
		st.Config = &cfg
	}
	return st
}

func (m *Machine) notifyState(s State) {
	m.cbMu.RLock()
	cb := m.onState
	m.cbMu.RUnlock()
	if cb != nil {
		cb(s)
	}
}

func (m *Machine) notifyResult(r Result) {
	m.cbMu.RLock()
	cb := m.onResult
	m.cbMu.RUnlock()
	if cb != nil {
		cb(r)
	}
}
