package autocal

import "errors"

var (
	// ErrCycleActive is returned by Start while a cycle is already running.
	ErrCycleActive = errors.New("autocal: calibration cycle already active")

	// ErrNoCycle is returned by Abort when no abortable cycle is running.
	ErrNoCycle = errors.New("autocal: no active cycle to abort")

	// ErrInvalidConfig is returned by Start for an unusable cycle config.
	ErrInvalidConfig = errors.New("autocal: invalid cycle config")
)
