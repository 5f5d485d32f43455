package mqtt

import "errors"

// Sentinel errors for broker operations. Callers branch with errors.Is;
// wrapped variants carry the underlying paho failure.
var (
	// ErrNotConnected: the session is down; paho is reconnecting in the
	// background.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed: the initial dial never completed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed: the broker did not accept a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed: a route could not be established.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed: a route could not be torn down.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS: QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic: empty topic string.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
