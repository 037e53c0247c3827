package mqtt

import "fmt"

// Topic prefixes for the AgentLink MQTT event surface.
//
// All topics use the flat scheme: agentlink/{category}/{kind}/{id}
const (
	// TopicPrefix is the base for all AgentLink topics.
	TopicPrefix = "agentlink"

	// TopicPrefixEvent is the base for lifecycle event topics.
	TopicPrefixEvent = "agentlink/event"

	// TopicPrefixStatus is the base for status topics.
	TopicPrefixStatus = "agentlink/status"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "agentlink/system"
)

// Topics provides builders for AgentLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	taskTopic := topics.TaskEvent("dev-4f2a91c3")
//	// Returns: "agentlink/event/task/dev-4f2a91c3"
type Topics struct{}

// TaskEvent returns the topic for task lifecycle events on a device.
// Published on dispatch and on result report.
//
// Example: agentlink/event/task/dev-4f2a91c3
func (Topics) TaskEvent(deviceID string) string {
	return fmt.Sprintf("%s/task/%s", TopicPrefixEvent, deviceID)
}

// AutomationEvent returns the topic for automation run events on a device.
//
// Example: agentlink/event/automation/dev-4f2a91c3
func (Topics) AutomationEvent(deviceID string) string {
	return fmt.Sprintf("%s/automation/%s", TopicPrefixEvent, deviceID)
}

// DeviceStatus returns the topic for device presence transitions.
// Retained so late subscribers see the last known state.
//
// Example: agentlink/status/device/dev-4f2a91c3
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefixStatus, deviceID)
}

// SystemStatus returns the service status topic, used for the LWT and
// graceful online/offline announcements.
//
// Example: agentlink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTaskEvents returns a pattern matching task events for every device.
//
// Pattern: agentlink/event/task/+
func (Topics) AllTaskEvents() string {
	return fmt.Sprintf("%s/task/+", TopicPrefixEvent)
}

// AllDeviceStatus returns a pattern matching all device status topics.
//
// Pattern: agentlink/status/device/+
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/device/+", TopicPrefixStatus)
}

// AllTopics returns a pattern matching all AgentLink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: agentlink/#
func (Topics) AllTopics() string {
	return "agentlink/#"
}
