package lock

import "time"

// FeedforwardStrategy estimates the setpoint rate of change used for the
// feed-forward term. Pluggable so a scan-aware analytic strategy can replace
// the default finite-difference one.
type FeedforwardStrategy interface {
	// Rate returns d(setpoint)/dt given the previous and current effective
	// setpoints and the time between them. dt is always positive.
	Rate(prev, cur float64, dt time.Duration) float64
}

// SetpointDifference is the default strategy: the finite difference of the
// two most recent effective setpoints.
type SetpointDifference struct{}

// Rate returns (cur - prev) / dt.
func (SetpointDifference) Rate(prev, cur float64, dt time.Duration) float64 {
	return (cur - prev) / dt.Seconds()
}

// NoFeedforward disables the feed-forward term entirely.
type NoFeedforward struct{}

// Rate always returns zero.
func (NoFeedforward) Rate(float64, float64, time.Duration) float64 { return 0 }
