package lock

import (
	"math"
	"time"
)

// Waveform selects the scan shape around the base setpoint.
type Waveform string

// Supported scan waveforms.
const (
	// WaveTriangle sweeps 0 → +A → -A → 0 each period.
	WaveTriangle Waveform = "triangle"

	// WaveSawtoothUp ramps -A → +A each period, then snaps back.
	WaveSawtoothUp Waveform = "sawtooth_up"

	// WaveSawtoothDown ramps +A → -A each period, then snaps back.
	WaveSawtoothDown Waveform = "sawtooth_down"
)

// scanState describes an active setpoint scan.
type scanState struct {
	Amplitude float64
	Period    time.Duration
	Waveform  Waveform
	Start     time.Time
}

// offsetAt evaluates the waveform at time t. The scan is a pure function of
// the measurement timestamp, so every consumer derives the same setpoint for
// the same measurement regardless of processing delays.
func (s *scanState) offsetAt(t time.Time) float64 {
	elapsed := t.Sub(s.Start)
	if elapsed < 0 {
		return 0
	}
	phase := math.Mod(elapsed.Seconds(), s.Period.Seconds()) / s.Period.Seconds()

	switch s.Waveform {
	case WaveSawtoothUp:
		return s.Amplitude * (2*phase - 1)
	case WaveSawtoothDown:
		return s.Amplitude * (1 - 2*phase)
	default: // triangle
		switch {
		case phase < 0.25:
			return s.Amplitude * 4 * phase
		case phase < 0.75:
			return s.Amplitude * (2 - 4*phase)
		default:
			return s.Amplitude * (4*phase - 4)
		}
	}
}
