// Package lock implements event-driven PI laser locking.
//
// A Controller consumes measurements for a single channel and writes a
// control output through an OutputSink. There is no internal timer: the
// loop advances once per measurement, so the control rate follows the
// instrument's readout rate. Setpoint scans and feed-forward are computed
// from measurement timestamps, which keeps the loop deterministic under
// replay.
package lock
