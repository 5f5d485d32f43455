package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wcache/cloudsync-core/internal/infrastructure/config"
)

// Client is the broker session for the sync engine. It wraps
// paho.mqtt.golang and adds the behaviour the engine relies on: inbound
// routes survive reconnects, handler panics are contained to the message
// that caused them, and every operation validates before touching paho.
//
// All methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// routes holds every active subscription so the session can be
	// re-established after a connection drop.
	routes  map[string]route
	routeMu sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger receives handler failures and recovered panics. logging.Logger
// and *slog.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// route is one tracked subscription: enough to replay it on reconnect.
type route struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives inbound messages. Paho invokes handlers on its
// delivery goroutines, so a slow handler stalls delivery for its topic.
//
// Parameters:
//   - topic: The concrete topic the message arrived on (wildcards resolved)
//   - payload: The raw payload bytes, usually a JSON document
//
// Returns:
//   - error: Reported to the client's Logger; delivery is not retried
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and returns a live session.
//
// The session reconnects on its own with exponential backoff, and on every
// reconnect replays the routes registered through Subscribe. The call blocks
// until the first connection succeeds or the connect timeout expires.
//
// Parameters:
//   - cfg: Broker address, credentials and reconnect tuning
//
// Returns:
//   - *Client: A connected session
//   - error: ErrConnectionFailed wrapping the underlying cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)

	c := &Client{
		cfg:     cfg,
		options: opts,
		routes:  make(map[string]route),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.sessionUp()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.sessionDown(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Paho fires the OnConnect handler asynchronously; mark the session up
	// here so IsConnected is true the moment Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// sessionUp runs on every (re)connect: flip the state and replay routes.
func (c *Client) sessionUp() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	for _, r := range c.routes {
		// Failures here surface through the broker session itself; the
		// next reconnect replays the route again.
		c.client.Subscribe(r.topic, r.qos, c.wrapHandler(r.handler))
	}
}

// sessionDown marks the session lost. Paho keeps retrying in the background.
func (c *Client) sessionDown(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil && err != nil {
		logger.Warn("MQTT session lost", "error", err)
	}
}

// Close disconnects from the broker after a short quiesce for in-flight
// publishes. Closing an already-closed or zero client is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports whether the broker session is usable.
//
// Parameters:
//   - ctx: Deadline/cancellation for the check
//
// Returns:
//   - error: nil when connected, ErrNotConnected or the context error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports the last known session state combined with paho's own
// view of the socket.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetLogger installs a logger for handler failures and recovered panics.
// Without one those conditions are dropped silently.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho's signature. A panicking
// handler loses only the message that triggered it, not the session.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
