package lock

import "errors"

// Sentinel errors for lock operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotLocking is returned by operations that require an engaged,
	// non-railed lock (scan start, sensitivity measurement).
	ErrNotLocking = errors.New("lock: not locking")

	// ErrRailed is returned when an operation is rejected because the
	// output sits on a rail.
	ErrRailed = errors.New("lock: output railed")

	// ErrOutOfRange is returned for output values outside the sink's limits.
	ErrOutOfRange = errors.New("lock: value outside output range")

	// ErrInvalidScan is returned for non-positive scan amplitude or period.
	ErrInvalidScan = errors.New("lock: invalid scan parameters")

	// ErrInvalidGains is returned for NaN or infinite gain values.
	ErrInvalidGains = errors.New("lock: invalid gains")
)
