package instrument

import (
	"context"
	"time"
)

// Reading is a single raw value delivered by the instrument.
//
// ErrCode is non-zero when the instrument reported a condition instead of a
// value (under- or over-exposed, no signal). The reading is still delivered so
// downstream consumers can observe the condition.
type Reading struct {
	Channel   string
	Value     float64
	Unit      string
	ErrCode   int
	Timestamp time.Time
}

// Callback receives readings from the driver.
//
// Callbacks are invoked on the driver's readout goroutine and must not block.
type Callback func(Reading)

// Driver abstracts a wavemeter instrument.
//
// Implementations push readings through the registered callback while the
// measurement is running. All control methods are safe for concurrent use.
type Driver interface {
	// Start begins the measurement readout. Idempotent.
	Start(ctx context.Context) error

	// Stop halts the measurement readout. Idempotent.
	Stop(ctx context.Context) error

	// SetCallback installs the reading callback. Pass nil to remove.
	// Must be called before Start.
	SetCallback(cb Callback)

	// Calibrate performs an instrument calibration against the reference
	// value currently measured on the given channel.
	Calibrate(ctx context.Context, channel string, value float64) error

	// Exposure returns the exposure time of a channel in milliseconds.
	Exposure(ctx context.Context, channel string) (int, error)

	// SetExposure sets the exposure time of a channel in milliseconds.
	SetExposure(ctx context.Context, channel string, ms int) error

	// SetOnFatal installs a callback invoked when the instrument connection
	// is lost beyond recovery. The driver stops delivering readings after
	// a fatal error.
	SetOnFatal(cb func(error))

	// Close releases the instrument. The driver is unusable afterwards.
	Close() error
}
