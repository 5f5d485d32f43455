package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for a topic and tracks the route so it is
// replayed after a reconnect.
//
// Topic patterns may use the MQTT wildcards:
//   - "+" matches one level: "/sys/pk/dk/rrpc/request/+" catches every request id
//   - "#" matches the rest: "/sys/pk/dk/#" catches the whole device namespace
//
// Handlers run on paho's delivery goroutines and should return quickly.
//
// Parameters:
//   - topic: The topic pattern to listen on
//   - qos: Maximum delivery QoS (0, 1 or 2)
//   - handler: Invoked once per inbound message
//
// Returns:
//   - error: nil on success; ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected
//     or ErrSubscribeFailed otherwise
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Track first so a reconnect racing this call still replays the route.
	c.routeMu.Lock()
	c.routes[topic] = route{topic: topic, qos: qos, handler: handler}
	c.routeMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.dropRoute(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.dropRoute(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a route. Messages already in flight may still reach
// the old handler.
//
// Parameters:
//   - topic: The exact pattern passed to Subscribe
//
// Returns:
//   - error: nil on success, or a wrapped ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.dropRoute(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

func (c *Client) dropRoute(topic string) {
	c.routeMu.Lock()
	delete(c.routes, topic)
	c.routeMu.Unlock()
}

// SubscriptionCount returns the number of tracked routes.
func (c *Client) SubscriptionCount() int {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	return len(c.routes)
}

// HasSubscription reports whether a route exists for the exact topic
// string. No pattern matching is attempted.
func (c *Client) HasSubscription(topic string) bool {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	_, exists := c.routes[topic]
	return exists
}
