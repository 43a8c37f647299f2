package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic or a topic segment
	// containing '/', '+' or '#'.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
