package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMeasurement writes a single channel measurement to InfluxDB.
//
// This is the primary method for recording wavemeter readings.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - channel: The measurement channel (e.g., "ch1", "T", "p")
//   - value: The measured value (frequency, temperature, pressure)
//   - valid: Whether the reading carries a value or an instrument error
//   - timestamp: When the instrument produced the reading
//
// Example:
//
//	client.WriteMeasurement("ch1", 500000.123, true, ts)
func (c *Client) WriteMeasurement(channel string, value float64, valid bool, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"measurements",
		map[string]string{
			"channel": channel,
		},
		map[string]interface{}{
			"value": value,
			"valid": valid,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteLockStatus writes a PI lock status snapshot.
//
// Used for tracking lock performance over time (error signal, integrator
// windup, output drift).
//
// Parameters:
//   - lockID: Lock identifier (e.g., "lock-ch1")
//   - errorSignal: setpoint minus measured value
//   - output: the commanded output value
//   - integrator: the current integrator term
func (c *Client) WriteLockStatus(lockID string, errorSignal, output, integrator float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lock_status",
		map[string]string{
			"lock_id": lockID,
		},
		map[string]interface{}{
			"error":      errorSignal,
			"output":     output,
			"integrator": integrator,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCalibrationEvent records an autocalibration state change.
//
// Parameters:
//   - channel: The channel used for pre-calibration verification
//   - state: The calibration cycle state (e.g., "calibrating", "aborted")
//   - measured: The last verification measurement (0 if not applicable)
func (c *Client) WriteCalibrationEvent(channel, state string, measured float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"calibration",
		map[string]string{
			"channel": channel,
			"state":   state,
		},
		map[string]interface{}{
			"measured": measured,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
