// Package command exposes the synchronous command surface shared by the
// HTTP API, the MQTT bridge and any other caller. Every mutation of
// instrument, lock or autocal state goes through a Dispatcher, which
// serializes instrument-touching operations and maps domain failures onto
// typed command errors.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/autocal"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
)

var (
	// ErrCommandRejected wraps a command refused in the current state.
	ErrCommandRejected = errors.New("command: rejected")

	// ErrUnknownLock is returned for an unrecognized lock identifier.
	ErrUnknownLock = errors.New("command: unknown lock")
)

// MeasurementSource is the slice of the measurement source the dispatcher
// drives.
type MeasurementSource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Calibrate(ctx context.Context, channel string, value float64) error
	Exposure(ctx context.Context, channel string) (int, error)
	SetExposure(ctx context.Context, channel string, ms int) error
}

// Autocalibrator is the slice of the autocal machine the dispatcher drives.
type Autocalibrator interface {
	Start(cfg autocal.Config) error
	Abort() error
	Status() autocal.Status
}

// Dispatcher routes commands to the measurement source, the lock
// controllers and the autocal machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A single mutex serializes
//     instrument-touching operations; lock commands rely on the
//     controllers' own exclusion and do not take it.
type Dispatcher struct {
	source  MeasurementSource
	auto    Autocalibrator
	locks   map[string]*lock.Controller
	lockIDs []string

	mu       sync.Mutex // serializes instrument operations
	autocfg  autocal.Config
	haveAuto bool
}

// New creates a Dispatcher over the given collaborators. The controllers
// map is keyed by lock ID and is not copied; it must not be mutated after
// construction.
func New(source MeasurementSource, auto Autocalibrator, locks map[string]*lock.Controller) *Dispatcher {
	ids := make([]string, 0, len(locks))
	for id := range locks {
		ids = append(ids, id)
	}
	return &Dispatcher{
		source:  source,
		auto:    auto,
		locks:   locks,
		lockIDs: ids,
	}
}

// Start begins measurement. A no-op success if already running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.Start(ctx)
}

// Stop halts measurement. A no-op success if already stopped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.Stop(ctx)
}

// IsRunning reports whether measurement is active.
func (d *Dispatcher) IsRunning() bool {
	return d.source.IsRunning()
}

// Calibrate performs a direct instrument calibration, bypassing the autocal
// verification sequence. Rejected while an autocal cycle is past its
// countdown and driving the instrument itself.
func (d *Dispatcher) Calibrate(ctx context.Context, channel string, value float64) error {
	if st := d.auto.Status().State; st == autocal.StateStopping ||
		st == autocal.StateCalibrating || st == autocal.StateResuming {
		return fmt.Errorf("%w: autocal cycle is driving the instrument", ErrCommandRejected)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.Calibrate(ctx, channel, value)
}

// Exposure returns a channel's exposure time in milliseconds.
func (d *Dispatcher) Exposure(ctx context.Context, channel string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.Exposure(ctx, channel)
}

// SetExposure sets a channel's exposure time in milliseconds.
func (d *Dispatcher) SetExposure(ctx context.Context, channel string, ms int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.SetExposure(ctx, channel, ms)
}

// ConfigureAutocal stores the cycle config used by the next StartAutocal.
func (d *Dispatcher) ConfigureAutocal(cfg autocal.Config) {
	d.mu.Lock()
	d.autocfg = cfg
	d.haveAuto = true
	d.mu.Unlock()
}

// AutocalConfig returns the stored cycle config, if one has been set.
func (d *Dispatcher) AutocalConfig() (autocal.Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autocfg, d.haveAuto
}

// StartAutocal begins a calibration cycle with the stored config.
func (d *Dispatcher) StartAutocal() error {
	d.mu.Lock()
	cfg, ok := d.autocfg, d.haveAuto
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: autocal not configured", ErrCommandRejected)
	}
	if err := d.auto.Start(cfg); err != nil {
		if errors.Is(err, autocal.ErrCycleActive) {
			return fmt.Errorf("%w: %v", ErrCommandRejected, err)
		}
		return err
	}
	return nil
}

// AbortAutocal cancels the active calibration cycle.
func (d *Dispatcher) AbortAutocal() error {
	if err := d.auto.Abort(); err != nil {
		if errors.Is(err, autocal.ErrNoCycle) {
			return fmt.Errorf("%w: %v", ErrCommandRejected, err)
		}
		return err
	}
	return nil
}

// AutocalStatus returns the autocal machine's status snapshot.
func (d *Dispatcher) AutocalStatus() autocal.Status {
	return d.auto.Status()
}

// Lock returns the controller for the given lock ID.
func (d *Dispatcher) Lock(id string) (*lock.Controller, error) {
	c, ok := d.locks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLock, id)
	}
	return c, nil
}

// LockIDs returns all configured lock IDs.
func (d *Dispatcher) LockIDs() []string {
	out := make([]string, len(d.lockIDs))
	copy(out, d.lockIDs)
	return out
}

// LockStatuses returns a status snapshot per configured lock.
func (d *Dispatcher) LockStatuses() []lock.Status {
	out := make([]lock.Status, 0, len(d.locks))
	for _, id := range d.lockIDs {
		out = append(out, d.locks[id].Status())
	}
	return out
}

// EnableLock engages a lock.
func (d *Dispatcher) EnableLock(id string) error {
	c, err := d.Lock(id)
	if err != nil {
		return err
	}
	c.Enable()
	return nil
}

// DisableLock disengages a lock. Idempotent.
func (d *Dispatcher) DisableLock(id string) error {
	c, err := d.Lock(id)
	if err != nil {
		return err
	}
	c.Disable()
	return nil
}

// SetSetpoint updates a lock's base setpoint.
func (d *Dispatcher) SetSetpoint(id string, v float64) error {
	c, err := d.Lock(id)
	if err != nil {
		return err
	}
	c.SetSetpoint(v)
	return nil
}

// SetGains updates a lock's PI gains.
func (d *Dispatcher) SetGains(id string, kp, ki float64) error {
	c, err := d.Lock(id)
	if err != nil {
		return err
	}
	if err := c.SetGains(kp, ki); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	return nil
}

// StartScan begins a setpoint scan on a lock.
func (d *Dispatcher) StartScan(id string, amplitude float64, period time.Duration, w lock.Waveform) error {
	c, err := d.Lock(id)
	if err != nil {
		return err
	}
	if err := c.StartScan(amplitude, period, w); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	return nil
}

// StopScan ends a lock's setpoint scan. Idempotent.
func (d *Dispatcher) StopScan(id string) error {
	c, err := d.Lock(id)
	if err != nil {
		return err
	}
	c.StopScan()
	return nil
}

// SetAuxOutput applies a value to a lock's auxiliary output.
func (d *Dispatcher) SetAuxOutput(ctx context.Context, id string, v float64) (float64, error) {
	c, err := d.Lock(id)
	if err != nil {
		return 0, err
	}
	applied, err := c.SetAuxOutput(ctx, v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	return applied, nil
}

// MeasureSensitivity runs a lock's feed-forward sensitivity estimate.
func (d *Dispatcher) MeasureSensitivity(ctx context.Context, id string, step float64, settle time.Duration) (float64, error) {
	c, err := d.Lock(id)
	if err != nil {
		return 0, err
	}
	sens, err := c.MeasureSensitivity(ctx, step, settle)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	return sens, nil
}
