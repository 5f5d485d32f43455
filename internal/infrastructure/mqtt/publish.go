package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads at 1MB, in line with the
// platform's per-message limit.
const maxPayloadSize = 1 << 20

// Publish sends one message and waits for the broker to accept it.
//
// The sync engine publishes request envelopes with retained=false; the
// platform rejects retained messages on its system topics.
//
// Parameters:
//   - topic: Destination topic (e.g. "/sys/<pk>/<dk>/thing/event/property/post")
//   - payload: Message bytes, at most 1MB
//   - qos: Delivery QoS (0 fire-and-forget, 1 at-least-once, 2 exactly-once)
//   - retained: Whether the broker stores the message for late subscribers
//
// Returns:
//   - error: nil once the broker accepts the message; ErrInvalidTopic,
//     ErrInvalidQoS, ErrNotConnected or a wrapped ErrPublishFailed otherwise
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
