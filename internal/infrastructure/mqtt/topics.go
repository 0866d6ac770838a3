package mqtt

import "fmt"

// Topic prefixes for the wavemeter MQTT namespace.
//
// All topics use the flat scheme: wavemeter/{category}/{id}
const (
	// TopicPrefix is the base for all wavemeter topics.
	TopicPrefix = "wavemeter"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "wavemeter/system"
)

// Topics provides builders for wavemeter MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ChannelState("ch1")
//	// Returns: "wavemeter/state/ch1"
type Topics struct{}

// ChannelState returns the topic for measurement updates on a channel.
//
// Example: wavemeter/state/ch1
func (Topics) ChannelState(channel string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, channel)
}

// LockStatus returns the topic for lock status snapshots.
//
// Example: wavemeter/lock/lock-ch1/status
func (Topics) LockStatus(lockID string) string {
	return fmt.Sprintf("%s/lock/%s/status", TopicPrefix, lockID)
}

// LockAlert returns the topic for lock railing alerts.
//
// Example: wavemeter/lock/lock-ch1/alert
func (Topics) LockAlert(lockID string) string {
	return fmt.Sprintf("%s/lock/%s/alert", TopicPrefix, lockID)
}

// CalibrationStatus returns the topic for autocalibration state changes.
//
// Example: wavemeter/calibration/status
func (Topics) CalibrationStatus() string {
	return fmt.Sprintf("%s/calibration/status", TopicPrefix)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: wavemeter/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllChannelStates returns a pattern matching all channel measurement updates.
//
// Pattern: wavemeter/state/+
func (Topics) AllChannelStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllLockStatuses returns a pattern matching all lock status snapshots.
//
// Pattern: wavemeter/lock/+/status
func (Topics) AllLockStatuses() string {
	return fmt.Sprintf("%s/lock/+/status", TopicPrefix)
}

// AllLockAlerts returns a pattern matching all lock alerts.
//
// Pattern: wavemeter/lock/+/alert
func (Topics) AllLockAlerts() string {
	return fmt.Sprintf("%s/lock/+/alert", TopicPrefix)
}

// AllTopics returns a pattern matching every wavemeter topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: wavemeter/#
func (Topics) AllTopics() string {
	return "wavemeter/#"
}
