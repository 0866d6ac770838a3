package lock

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/measurement"
)

// Mode is a controller operating mode.
type Mode string

// Controller modes.
const (
	// ModeIdle ignores measurements and produces no output.
	ModeIdle Mode = "idle"

	// ModeLocking runs the PI loop against the base setpoint.
	ModeLocking Mode = "locking"

	// ModeScanning runs the PI loop against a scanned setpoint.
	ModeScanning Mode = "scanning"

	// ModeRailed means the last computed output hit a rail; the output is
	// clamped and the integrator frozen until the loop recovers.
	ModeRailed Mode = "railed"
)

// Alert describes a transition onto an output rail.
type Alert struct {
	LockID string
	Output float64
	High   bool
	Time   time.Time
}

// Config describes one controller instance.
type Config struct {
	// ID names the lock for status topics and API paths.
	ID string

	// Channel is the measurement channel the loop consumes.
	Channel string

	// Kp and Ki are the proportional and integral gains.
	Kp float64
	Ki float64

	// Setpoint is the initial base setpoint.
	Setpoint float64

	// OutputOffset is added to every computed output.
	OutputOffset float64

	// Sensitivity scales the feed-forward term. Zero disables feed-forward.
	Sensitivity float64

	// MaxUpdateInterval is the largest accepted time between consecutive
	// updates. A larger gap re-anchors the timebase without control action.
	MaxUpdateInterval time.Duration
}

// Logger is the minimal logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// ScanStatus describes an active scan in a status snapshot.
type ScanStatus struct {
	Amplitude float64       `json:"amplitude"`
	Period    time.Duration `json:"period"`
	Waveform  Waveform      `json:"waveform"`
}

// Status is a point-in-time controller snapshot.
type Status struct {
	ID           string      `json:"id"`
	Channel      string      `json:"channel"`
	Mode         Mode        `json:"mode"`
	Setpoint     float64     `json:"setpoint"`
	Kp           float64     `json:"kp"`
	Ki           float64     `json:"ki"`
	Sensitivity  float64     `json:"sensitivity"`
	OutputOffset float64     `json:"output_offset"`
	Integrator   float64     `json:"integrator"`
	LastError    float64     `json:"last_error"`
	LastOutput   float64     `json:"last_output"`
	Scan         *ScanStatus `json:"scan,omitempty"`
}

// Controller is an event-driven PI controller with setpoint feed-forward.
//
// The loop advances once per measurement of its channel: there is no internal
// timer, so the control rate follows the instrument's readout rate.
//
// Thread Safety:
//   - Update and all command methods are safe for concurrent use. One mutex
//     guards the state; it is never held across sink calls.
type Controller struct {
	id      string
	channel string
	sink    OutputSink
	ff      FeedforwardStrategy
	logger  Logger

	onRail   func(Alert)
	onRailMu sync.RWMutex

	mu           sync.Mutex
	mode         Mode
	preRail      Mode // mode to restore when leaving Railed
	kp, ki       float64
	setpoint     float64 // base setpoint; scans offset around it
	offset       float64
	sensitivity  float64
	maxInterval  time.Duration
	integrator   float64
	lastTS       time.Time
	havePrev     bool
	prevSetpoint float64
	lastErr      float64
	lastOutput   float64
	scan         *scanState
}

// New creates a Controller in Idle mode.
func New(cfg Config, sink OutputSink) *Controller {
	if cfg.MaxUpdateInterval <= 0 {
		cfg.MaxUpdateInterval = 10 * time.Second
	}
	return &Controller{
		id:          cfg.ID,
		channel:     cfg.Channel,
		sink:        sink,
		ff:          SetpointDifference{},
		logger:      noopLogger{},
		mode:        ModeIdle,
		kp:          cfg.Kp,
		ki:          cfg.Ki,
		setpoint:    cfg.Setpoint,
		offset:      cfg.OutputOffset,
		sensitivity: cfg.Sensitivity,
		maxInterval: cfg.MaxUpdateInterval,
	}
}

// ID returns the lock identifier.
func (c *Controller) ID() string { return c.id }

// Channel returns the measurement channel the loop consumes.
func (c *Controller) Channel() string { return c.channel }

// SetLogger sets the controller's logger.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetFeedforward replaces the feed-forward strategy.
func (c *Controller) SetFeedforward(ff FeedforwardStrategy) {
	if ff == nil {
		ff = NoFeedforward{}
	}
	c.mu.Lock()
	c.ff = ff
	c.mu.Unlock()
}

// SetOnRail installs the rail alert callback, invoked once per transition
// onto a rail.
func (c *Controller) SetOnRail(cb func(Alert)) {
	c.onRailMu.Lock()
	c.onRail = cb
	c.onRailMu.Unlock()
}

// Enable engages the lock. Resets the integrator and the update timebase.
// Idempotent while engaged.
func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIdle {
		return
	}
	c.mode = ModeLocking
	c.integrator = 0
	c.havePrev = false
}

// Disable disengages the lock. The output holds its last value.
func (c *Controller) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = ModeIdle
	c.scan = nil
	c.havePrev = false
}

// SetSetpoint updates the base setpoint. During a scan this moves the scan
// centre.
func (c *Controller) SetSetpoint(v float64) {
	c.mu.Lock()
	c.setpoint = v
	c.mu.Unlock()
}

// Setpoint returns the base setpoint.
func (c *Controller) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// SetGains updates the proportional and integral gains.
func (c *Controller) SetGains(kp, ki float64) error {
	if math.IsNaN(kp) || math.IsInf(kp, 0) || math.IsNaN(ki) || math.IsInf(ki, 0) {
		return ErrInvalidGains
	}
	c.mu.Lock()
	c.kp = kp
	c.ki = ki
	c.mu.Unlock()
	return nil
}

// SetSensitivity sets the feed-forward sensitivity.
func (c *Controller) SetSensitivity(v float64) {
	c.mu.Lock()
	c.sensitivity = v
	c.mu.Unlock()
}

// StartScan begins a setpoint scan around the base setpoint. The lock must
// be engaged and off the rails. Restarting an active scan replaces it.
func (c *Controller) StartScan(amplitude float64, period time.Duration, w Waveform) error {
	if amplitude <= 0 || period <= 0 {
		return fmt.Errorf("%w: amplitude=%v period=%v", ErrInvalidScan, amplitude, period)
	}
	switch w {
	case WaveTriangle, WaveSawtoothUp, WaveSawtoothDown:
	case "":
		w = WaveTriangle
	default:
		return fmt.Errorf("%w: unknown waveform %q", ErrInvalidScan, w)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeRailed:
		return ErrRailed
	case ModeIdle:
		return ErrNotLocking
	}

	c.scan = &scanState{
		Amplitude: amplitude,
		Period:    period,
		Waveform:  w,
		Start:     time.Now(),
	}
	c.mode = ModeScanning
	return nil
}

// StopScan ends an active scan and restores the base setpoint. Idempotent.
func (c *Controller) StopScan() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scan = nil
	if c.mode == ModeScanning {
		c.mode = ModeLocking
	}
	if c.mode == ModeRailed && c.preRail == ModeScanning {
		c.preRail = ModeLocking
	}
}

// SetAuxOutput applies a bounds-checked value to the sink's auxiliary
// output. Independent of the control loop and valid in any mode.
func (c *Controller) SetAuxOutput(ctx context.Context, v float64) (float64, error) {
	min, max := c.sink.AuxLimits()
	if v < min || v > max {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, v, min, max)
	}
	return c.sink.SetAux(ctx, v)
}

// MeasureSensitivity estimates the output sensitivity by stepping the
// setpoint and comparing the settled outputs before and after. Valid only
// while plainly locking; rejected while railed, scanning or idle. The
// measured value is stored as the new feed-forward sensitivity.
func (c *Controller) MeasureSensitivity(ctx context.Context, step float64, settle time.Duration) (float64, error) {
	if step == 0 {
		return 0, fmt.Errorf("%w: zero setpoint step", ErrInvalidGains)
	}

	c.mu.Lock()
	switch c.mode {
	case ModeRailed:
		c.mu.Unlock()
		return 0, ErrRailed
	case ModeLocking:
	default:
		c.mu.Unlock()
		return 0, ErrNotLocking
	}
	pre := c.lastOutput
	c.setpoint += step
	c.mu.Unlock()

	restore := func() {
		c.mu.Lock()
		c.setpoint -= step
		c.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		restore()
		return 0, ctx.Err()
	case <-time.After(settle):
	}

	c.mu.Lock()
	post := c.lastOutput
	sens := (post - pre) / step
	c.sensitivity = sens
	c.setpoint -= step
	c.mu.Unlock()

	return sens, nil
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		ID:           c.id,
		Channel:      c.channel,
		Mode:         c.mode,
		Setpoint:     c.setpoint,
		Kp:           c.kp,
		Ki:           c.ki,
		Sensitivity:  c.sensitivity,
		OutputOffset: c.offset,
		Integrator:   c.integrator,
		LastError:    c.lastErr,
		LastOutput:   c.lastOutput,
	}
	if c.scan != nil {
		st.Scan = &ScanStatus{
			Amplitude: c.scan.Amplitude,
			Period:    c.scan.Period,
			Waveform:  c.scan.Waveform,
		}
	}
	return st
}

// Update advances the loop by one measurement. Invalid measurements and
// measurements for other channels are ignored.
func (c *Controller) Update(ctx context.Context, m measurement.Measurement) {
	if !m.Valid || m.Channel != c.channel {
		return
	}

	c.mu.Lock()

	if c.mode == ModeIdle {
		c.mu.Unlock()
		return
	}

	sp := c.setpoint
	if c.scan != nil {
		sp += c.scan.offsetAt(m.Timestamp)
	}

	if !c.havePrev {
		c.havePrev = true
		c.lastTS = m.Timestamp
		c.prevSetpoint = sp
		c.mu.Unlock()
		return
	}

	dt := m.Timestamp.Sub(c.lastTS)
	if dt <= 0 {
		c.mu.Unlock()
		return
	}
	if dt > c.maxInterval {
		// Too long since the last update to integrate over. Re-anchor the
		// timebase; this step produces no control action.
		c.lastTS = m.Timestamp
		c.prevSetpoint = sp
		c.mu.Unlock()
		return
	}

	errSig := sp - m.Value
	candidate := c.integrator + c.ki*errSig*dt.Seconds()
	ffTerm := c.sensitivity * c.ff.Rate(c.prevSetpoint, sp, dt)
	out := c.offset + c.kp*errSig + candidate + ffTerm

	min, max := c.sink.Limits()
	var alert *Alert
	target := out
	switch {
	case out < min:
		target = min
	case out > max:
		target = max
	}

	if target != out {
		// Railed: clamp, freeze the integrator, remember where to return.
		if c.mode != ModeRailed {
			c.preRail = c.mode
			c.mode = ModeRailed
			alert = &Alert{LockID: c.id, Output: target, High: out > max, Time: m.Timestamp}
		}
	} else {
		c.integrator = candidate
		if c.mode == ModeRailed {
			c.mode = c.preRail
		}
	}

	c.lastTS = m.Timestamp
	c.prevSetpoint = sp
	c.lastErr = errSig
	logger := c.logger
	c.mu.Unlock()

	applied, err := c.sink.SetOutput(ctx, target)
	if err != nil {
		logger.Warn("output write failed", "lock", c.id, "value", target, "error", err)
		return
	}

	c.mu.Lock()
	c.lastOutput = applied
	c.mu.Unlock()

	if alert != nil {
		c.onRailMu.RLock()
		cb := c.onRail
		c.onRailMu.RUnlock()
		if cb != nil {
			cb(*alert)
		}
	}
}
