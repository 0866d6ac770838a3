package instrument

import "errors"

// Sentinel errors for instrument operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotRunning is returned by operations that require an active measurement.
	ErrNotRunning = errors.New("instrument: measurement not running")

	// ErrUnknownChannel is returned when a channel name is not recognised.
	ErrUnknownChannel = errors.New("instrument: unknown channel")

	// ErrInvalidExposure is returned for out-of-range exposure times.
	ErrInvalidExposure = errors.New("instrument: invalid exposure time")

	// ErrClosed is returned by operations on a closed driver.
	ErrClosed = errors.New("instrument: driver closed")
)

// Instrument error codes delivered through Reading.ErrCode.
const (
	ErrCodeNone         = 0
	ErrCodeNoSignal     = -1
	ErrCodeBadSignal    = -2
	ErrCodeUnderExposed = -3
	ErrCodeOverExposed  = -4
)
