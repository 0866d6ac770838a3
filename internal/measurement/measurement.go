package measurement

import "time"

// Measurement is one reading on one channel.
//
// Measurements are immutable once published. When Valid is false the
// instrument reported a condition instead of a value and Value carries the
// instrument error code; consumers must not feed it into control loops.
type Measurement struct {
	// Channel identifies the source ("ch1".."chN", "T", "p").
	Channel string `json:"channel"`

	// Timestamp is when the instrument produced the reading.
	Timestamp time.Time `json:"timestamp"`

	// Value is the reading, or the instrument error code when Valid is false.
	Value float64 `json:"value"`

	// Unit is the value's unit ("GHz", "nm", "C", "mbar").
	Unit string `json:"unit,omitempty"`

	// Valid reports whether Value is a real reading.
	Valid bool `json:"valid"`
}
