package measurement

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/QUEST-EQM/wavemeter/internal/instrument"
)

// Publisher receives measurements from the Source.
// Implemented by broadcast.Broadcaster.
type Publisher interface {
	Publish(m Measurement)
}

// Logger is the minimal logging interface used by the Source.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config tunes the Source.
type Config struct {
	// SkipThreshold discards a reading that differs from the channel's last
	// valid value by more than this amount. Guards against the instrument
	// attributing a value to the wrong switcher channel. Zero disables the
	// filter. Applies only to optical channels, never to "T" or "p".
	SkipThreshold float64
}

// Source adapts an instrument.Driver's callback stream into published
// Measurements. One reading becomes at most one publish; readings rejected by
// the jump filter are dropped and logged.
//
// Thread Safety:
//   - Start/Stop/Calibrate/Exposure/SetExposure are safe for concurrent use.
//   - The publish path runs on the driver's readout goroutine.
type Source struct {
	driver instrument.Driver
	pub    Publisher
	cfg    Config
	logger Logger

	mu        sync.Mutex
	running   bool
	lastValid map[string]float64

	onFatal func(error)
	fatalMu sync.RWMutex
}

// NewSource creates a Source publishing through pub.
func NewSource(driver instrument.Driver, pub Publisher, cfg Config) *Source {
	s := &Source{
		driver:    driver,
		pub:       pub,
		cfg:       cfg,
		logger:    noopLogger{},
		lastValid: make(map[string]float64),
	}
	driver.SetCallback(s.handleReading)
	driver.SetOnFatal(func(err error) {
		s.fatalMu.RLock()
		cb := s.onFatal
		s.fatalMu.RUnlock()
		if cb != nil {
			cb(err)
		}
	})
	return s
}

// SetLogger sets the logger used for dropped readings.
func (s *Source) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetOnFatal installs the fatal-error callback. Invoked when the instrument
// connection is lost beyond recovery; the daemon is expected to terminate
// rather than let consumers act on stale values.
func (s *Source) SetOnFatal(cb func(error)) {
	s.fatalMu.Lock()
	s.onFatal = cb
	s.fatalMu.Unlock()
}

// Start begins measurement readout. Idempotent.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("starting instrument: %w", err)
	}
	s.running = true
	return nil
}

// Stop halts measurement readout. Idempotent.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	if err := s.driver.Stop(ctx); err != nil {
		return fmt.Errorf("stopping instrument: %w", err)
	}
	s.running = false
	return nil
}

// IsRunning reports whether the readout is active.
func (s *Source) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Calibrate performs an instrument calibration against the reference value
// on the given channel.
func (s *Source) Calibrate(ctx context.Context, channel string, value float64) error {
	if err := s.driver.Calibrate(ctx, channel, value); err != nil {
		return fmt.Errorf("calibrating: %w", err)
	}
	return nil
}

// Exposure returns a channel's exposure time in milliseconds.
func (s *Source) Exposure(ctx context.Context, channel string) (int, error) {
	return s.driver.Exposure(ctx, channel)
}

// SetExposure sets a channel's exposure time in milliseconds.
func (s *Source) SetExposure(ctx context.Context, channel string, ms int) error {
	return s.driver.SetExposure(ctx, channel, ms)
}

// handleReading converts a driver reading into a published Measurement.
func (s *Source) handleReading(r instrument.Reading) {
	m := Measurement{
		Channel:   r.Channel,
		Timestamp: r.Timestamp,
		Value:     r.Value,
		Unit:      r.Unit,
		Valid:     r.ErrCode == instrument.ErrCodeNone,
	}
	if !m.Valid {
		m.Value = float64(r.ErrCode)
		s.pub.Publish(m)
		return
	}

	if s.shouldSkip(r) {
		return
	}

	s.pub.Publish(m)
}

// shouldSkip applies the jump filter and records the last valid value.
func (s *Source) shouldSkip(r instrument.Reading) bool {
	// Ambient channels never jump between switcher positions.
	if r.Channel == "T" || r.Channel == "p" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.lastValid[r.Channel]
	if s.cfg.SkipThreshold > 0 && seen && math.Abs(r.Value-last) > s.cfg.SkipThreshold {
		s.logger.Debug("reading skipped by jump filter",
			"channel", r.Channel,
			"value", r.Value,
			"last", last,
			"threshold", s.cfg.SkipThreshold,
		)
		return true
	}

	s.lastValid[r.Channel] = r.Value
	return false
}
