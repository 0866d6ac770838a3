package instrument

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Simulated driver defaults.
const (
	// defaultTickInterval is the time between simulated readings per channel.
	defaultTickInterval = 100 * time.Millisecond

	// defaultExposure is the initial exposure time in milliseconds.
	defaultExposure = 2

	// minExposureMs and maxExposureMs bound SetExposure, mirroring the
	// limits of the real instrument.
	minExposureMs = 1
	maxExposureMs = 10000

	// defaultBaseFrequency is the centre frequency of simulated channels (GHz).
	defaultBaseFrequency = 500000.0

	// defaultNoise is the peak-to-peak noise on simulated readings (GHz).
	defaultNoise = 0.0002
)

// SimConfig configures the simulated driver.
type SimConfig struct {
	// NChannels is the number of switcher channels (ch1..chN).
	NChannels int

	// ReadTemperature adds the "T" channel (°C).
	ReadTemperature bool

	// ReadPressure adds the "p" channel (mbar).
	ReadPressure bool

	// TickInterval is the time between readings per channel.
	// Zero uses the default.
	TickInterval time.Duration

	// Noise is the peak-to-peak noise amplitude. Zero uses the default.
	Noise float64
}

// Sim is a simulated wavemeter driver for development and testing.
//
// Each switcher channel produces frequency readings around a base value with
// uniform noise. Calibrate shifts all channels by the measured offset, the
// way a real calibration corrects the interferometer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Sim struct {
	cfg SimConfig

	mu       sync.Mutex
	cb       Callback
	onFatal  func(error)
	bases    map[string]float64 // target value per channel
	drift    float64            // accumulated calibration drift
	exposure map[string]int
	running  bool
	closed   bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSim creates a simulated driver.
func NewSim(cfg SimConfig) *Sim {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Noise <= 0 {
		cfg.Noise = defaultNoise
	}

	bases := make(map[string]float64)
	exposure := make(map[string]int)
	for i := 1; i <= cfg.NChannels; i++ {
		ch := fmt.Sprintf("ch%d", i)
		// Spread channels a little so they are distinguishable.
		bases[ch] = defaultBaseFrequency + float64(i)*10.0
		exposure[ch] = defaultExposure
	}
	if cfg.ReadTemperature {
		bases["T"] = 22.5
	}
	if cfg.ReadPressure {
		bases["p"] = 1013.0
	}

	return &Sim{
		cfg:      cfg,
		bases:    bases,
		exposure: exposure,
	}
}

// SetCallback installs the reading callback.
func (s *Sim) SetCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// SetOnFatal installs the fatal error callback.
func (s *Sim) SetOnFatal(cb func(error)) {
	s.mu.Lock()
	s.onFatal = cb
	s.mu.Unlock()
}

// Start begins producing readings. Idempotent.
func (s *Sim) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)

	return nil
}

// Stop halts reading production. Idempotent.
func (s *Sim) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// Calibrate shifts all frequency channels so the given channel reads the
// reference value. Temperature and pressure channels are unaffected.
func (s *Sim) Calibrate(_ context.Context, channel string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	base, ok := s.bases[channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	correction := value - (base + s.drift)
	s.drift += correction
	return nil
}

// Exposure returns the exposure time of a channel in milliseconds.
func (s *Sim) Exposure(_ context.Context, channel string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.exposure[channel]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return ms, nil
}

// SetExposure sets the exposure time of a channel in milliseconds.
func (s *Sim) SetExposure(_ context.Context, channel string, ms int) error {
	if ms < minExposureMs || ms > maxExposureMs {
		return fmt.Errorf("%w: %d ms", ErrInvalidExposure, ms)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exposure[channel]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	s.exposure[channel] = ms
	return nil
}

// Close stops the driver permanently.
func (s *Sim) Close() error {
	_ = s.Stop(context.Background())

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SetChannelValue overrides the target value of a channel.
// Intended for tests and for closing a simulated control loop.
func (s *Sim) SetChannelValue(channel string, value float64) {
	s.mu.Lock()
	s.bases[channel] = value
	s.mu.Unlock()
}

// Drift returns the accumulated calibration correction.
func (s *Sim) Drift() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drift
}

// run produces one reading per channel per tick until stopped.
func (s *Sim) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.emit(now)
		}
	}
}

// emit delivers one reading per channel to the callback.
func (s *Sim) emit(now time.Time) {
	s.mu.Lock()
	cb := s.cb
	readings := make([]Reading, 0, len(s.bases))
	for ch, base := range s.bases {
		value := base
		unit := "GHz"
		switch ch {
		case "T":
			unit = "C"
		case "p":
			unit = "mbar"
		default:
			value += s.drift
		}
		value += (rand.Float64() - 0.5) * s.cfg.Noise
		readings = append(readings, Reading{
			Channel:   ch,
			Value:     value,
			Unit:      unit,
			Timestamp: now,
		})
	}
	s.mu.Unlock()

	if cb == nil {
		return
	}
	for _, r := range readings {
		cb(r)
	}
}
