package lock

import (
	"context"
	"fmt"
	"sync"
)

// OutputSink is the analog output a controller drives.
//
// SetOutput and SetAux return the value actually applied, which may differ
// from the requested value if the hardware quantises. Limits and AuxLimits
// are static per backend.
type OutputSink interface {
	// SetOutput applies the main control output.
	SetOutput(ctx context.Context, v float64) (float64, error)

	// SetAux applies the auxiliary output, outside the control loop.
	SetAux(ctx context.Context, v float64) (float64, error)

	// Limits returns the main output range.
	Limits() (min, max float64)

	// AuxLimits returns the auxiliary output range.
	AuxLimits() (min, max float64)
}

// SimSink is an in-memory OutputSink for development and testing.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type SimSink struct {
	min, max       float64
	auxMin, auxMax float64

	mu     sync.Mutex
	output float64
	aux    float64
}

// NewSimSink creates a simulated sink with the given ranges.
func NewSimSink(min, max, auxMin, auxMax float64) *SimSink {
	return &SimSink{min: min, max: max, auxMin: auxMin, auxMax: auxMax}
}

// SetOutput stores the main output value.
func (s *SimSink) SetOutput(_ context.Context, v float64) (float64, error) {
	if v < s.min || v > s.max {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, v, s.min, s.max)
	}
	s.mu.Lock()
	s.output = v
	s.mu.Unlock()
	return v, nil
}

// SetAux stores the auxiliary output value.
func (s *SimSink) SetAux(_ context.Context, v float64) (float64, error) {
	if v < s.auxMin || v > s.auxMax {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, v, s.auxMin, s.auxMax)
	}
	s.mu.Lock()
	s.aux = v
	s.mu.Unlock()
	return v, nil
}

// Limits returns the main output range.
func (s *SimSink) Limits() (float64, float64) { return s.min, s.max }

// AuxLimits returns the auxiliary output range.
func (s *SimSink) AuxLimits() (float64, float64) { return s.auxMin, s.auxMax }

// Output returns the last applied main output.
func (s *SimSink) Output() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// Aux returns the last applied auxiliary output.
func (s *SimSink) Aux() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aux
}
