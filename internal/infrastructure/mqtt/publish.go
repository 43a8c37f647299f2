package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize bounds a single message (1MB).
const maxPayloadSize = 1 << 20

// Event is the payload of a change event.
type Event struct {
	Entity    string    `json:"entity"`
	Action    string    `json:"action"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishEvent publishes a change event to <prefix>/events/<entity>/<action>
// with the configured QoS. Events are never retained.
func (c *Client) PublishEvent(entity, action string, data any) error {
	if !validSegment(entity) || !validSegment(action) {
		return fmt.Errorf("%w: entity %q action %q", ErrInvalidTopic, entity, action)
	}

	payload, err := json.Marshal(Event{
		Entity:    entity,
		Action:    action,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding event: %w", ErrPublishFailed, err)
	}

	return c.Publish(c.topics.Event(entity, action), payload, byte(c.cfg.QoS), false)
}
