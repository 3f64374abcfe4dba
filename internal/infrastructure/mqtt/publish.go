package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize is the maximum allowed payload size (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified topic and waits for the broker
// acknowledgment (QoS 1/2) or the write (QoS 0).
//
// Parameters:
//   - topic: MQTT topic to publish to (must not be empty)
//   - payload: Message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether broker should retain message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	topic := mqtt.BusTopics{Prefix: "diagbridge"}.Signal("/com/graylogic/Diagnostics")
//	err := client.Publish(topic, []byte(`{"signal":"FoundDevice"}`), 1, false)
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

// PublishJSON marshals v and publishes it with the configured default QoS.
//
// Parameters:
//   - topic: MQTT topic to publish to
//   - v: Value encoded with encoding/json
//   - retained: Whether broker should retain message for new subscribers
//
// Returns:
//   - error: ErrPublishFailed wrapping the marshal or publish failure
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshalling payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}

// ClearRetained removes a retained message by publishing an empty payload.
//
// Parameters:
//   - topic: Topic whose retained message should be removed
func (c *Client) ClearRetained(topic string) error {
	return c.Publish(topic, nil, byte(c.cfg.QoS), true)
}
