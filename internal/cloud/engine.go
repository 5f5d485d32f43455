package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wcache/cloudsync-core/internal/infrastructure/config"
	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
	"github.com/wcache/cloudsync-core/internal/infrastructure/mqtt"
	"github.com/wcache/cloudsync-core/internal/journal"
)

// Transport is the broker connection the engine publishes and subscribes
// through. *mqtt.Client satisfies it; tests substitute an in-memory fake.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close() error
}

// DialFunc establishes a transport from broker configuration. The default
// dialer wraps mqtt.Connect.
type DialFunc func(cfg config.MQTTConfig) (Transport, error)

// defaultAckTimeout is the platform acknowledgement deadline.
const defaultAckTimeout = 10 * time.Second

// Engine is the device-side synchronisation engine: it owns the broker
// session, formats outbound requests, correlates acknowledgements and fans
// inbound cloud messages out to observers.
//
// All session state lives on the Engine instance; two engines for two
// device identities coexist in one process.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Engine struct {
	cfg config.Config
	log *logging.Logger

	topics     Topics
	alloc      *IdentifierAllocator
	table      *CorrelationTable
	observers  *ObserverRegistry
	dispatcher *Dispatcher
	formatter  *Formatter

	dial       DialFunc
	recorder   journal.Recorder
	ackTimeout time.Duration

	// stateMu guards model, formatter and transport. Publish paths read the
	// pointers once and operate lock-free afterwards.
	stateMu   sync.Mutex
	model     *ObjectModel
	transport Transport
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithDialer substitutes the transport dialer. Used by tests to run the
// engine against an in-memory broker.
func WithDialer(dial DialFunc) Option {
	return func(e *Engine) { e.dial = dial }
}

// WithJournal records every correlation-tagged publish outcome.
func WithJournal(recorder journal.Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// WithAckTimeout overrides the acknowledgement deadline.
func WithAckTimeout(timeout time.Duration) Option {
	return func(e *Engine) { e.ackTimeout = timeout }
}

// New creates an engine for the configured device identity. The engine is
// inert until RegisterObjectModel and Connect are called.
func New(cfg config.Config, log *logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg: cfg,
		log: log.With("component", "cloud"),
		topics: Topics{
			ProductKey: cfg.Cloud.ProductKey,
			DeviceKey:  cfg.Cloud.DeviceKey,
		},
		alloc:      NewIdentifierAllocator(),
		table:      NewCorrelationTable(),
		observers:  NewObserverRegistry(),
		ackTimeout: defaultAckTimeout,
	}
	e.dispatcher = NewDispatcher(e.table, e.observers, e.log)

	for _, opt := range opts {
		opt(e)
	}
	if e.dial == nil {
		e.dial = e.dialBroker
	}
	return e
}

// dialBroker connects a real broker client and routes its handler
// diagnostics through the engine's logger.
func (e *Engine) dialBroker(cfg config.MQTTConfig) (Transport, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, err
	}
	client.SetLogger(e.log)
	return client, nil
}

// lock acquires the state mutex.
func (e *Engine) lock() { e.stateMu.Lock() }

// unlock releases the state mutex.
func (e *Engine) unlock() { e.stateMu.Unlock() }

// nextID draws a correlation identifier and reserves it in the table,
// redrawing on the rare wrap collision with an identifier still in flight.
func (e *Engine) nextID() string {
	for {
		id := e.alloc.Next()
		if e.table.Register(id) {
			return id
		}
	}
}

// NextID implements IDSource for the formatter.
func (e *Engine) NextID() string {
	return e.nextID()
}

// RegisterObjectModel installs the schema the engine validates telemetry
// against. Must be called before Connect; a nil model is rejected.
func (e *Engine) RegisterObjectModel(model *ObjectModel) error {
	if model == nil {
		return fmt.Errorf("%w: nil object model", ErrSchema)
	}

	e.lock()
	defer e.unlock()

	e.model = model
	e.formatter = NewFormatter(model, e.topics, e, e.log)
	return nil
}

// Connect establishes the broker session and subscribes the inbound topic
// set. Calling Connect on a live session is a no-op unless force is set, in
// which case the old session is torn down first.
//
// Returns:
//   - error: Missing object model, credential derivation failure, or dial failure
func (e *Engine) Connect(force bool) error {
	e.lock()
	defer e.unlock()

	if e.model == nil {
		return fmt.Errorf("%w: connect before object model registration", ErrSchema)
	}

	if e.transport != nil {
		if e.transport.IsConnected() && !force {
			return nil
		}
		// A dropped session still owns an auto-reconnecting client; close
		// it before dialing a replacement under the same client identity.
		if err := e.transport.Close(); err != nil {
			e.log.Warn("closing stale session", "error", err)
		}
		e.transport = nil
	}

	creds, err := DeriveCredentials(
		e.cfg.Cloud.ProductKey,
		e.cfg.Cloud.DeviceKey,
		e.cfg.Cloud.ProductSecret,
		e.cfg.Cloud.DeviceSecret,
		BurningMethod(e.cfg.Cloud.BurningMethod),
	)
	if err != nil {
		return fmt.Errorf("deriving credentials: %w", err)
	}

	mqttCfg := e.cfg.MQTT
	mqttCfg.Broker.Host = e.cfg.BrokerHost()
	mqttCfg.Broker.ClientID = creds.ClientID
	mqttCfg.Auth.Username = creds.Username
	mqttCfg.Auth.Password = creds.Password
	if mqttCfg.KeepAlive == 0 {
		mqttCfg.KeepAlive = e.cfg.Cloud.KeepAlive
	}

	transport, err := e.dial(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	e.transport = transport

	e.subscribeAll(transport)

	e.log.Info("cloud session established",
		"broker", mqttCfg.Broker.Host,
		"device_key", e.cfg.Cloud.DeviceKey)
	return nil
}

// subscribeAll subscribes the full inbound topic set. A failed subscription
// is logged and skipped; the session stays usable for the topics that did
// subscribe and reconnect restores them all.
func (e *Engine) subscribeAll(transport Transport) {
	qos := byte(e.cfg.MQTT.QoS)

	topics := []string{
		e.topics.PropertyPostReply(),
		e.topics.PropertySet(),
		e.topics.OTADeviceUpgrade(),
		e.topics.FirmwareGetReply(),
		e.topics.FileDownloadReply(),
		e.topics.RRPCRequestWildcard(),
	}
	for _, event := range e.model.Events() {
		topics = append(topics, e.topics.EventPostReply(event))
	}

	for _, topic := range topics {
		if err := transport.Subscribe(topic, qos, e.onMessage); err != nil {
			e.log.Warn("subscription failed", "topic", topic, "error", err)
		}
	}
}

// onMessage is the transport delivery callback.
func (e *Engine) onMessage(topic string, payload []byte) error {
	if err := e.dispatcher.Dispatch(topic, payload); err != nil {
		e.log.Warn("inbound message dropped", "topic", topic, "error", err)
	}
	return nil
}

// Disconnect tears the session down. Disconnecting an idle engine succeeds.
func (e *Engine) Disconnect() bool {
	e.lock()
	defer e.unlock()

	if e.transport == nil {
		return true
	}
	if err := e.transport.Close(); err != nil {
		e.log.Warn("closing session", "error", err)
	}
	e.transport = nil
	return true
}

// Status reports whether the broker session is live.
func (e *Engine) Status() bool {
	e.lock()
	transport := e.transport
	e.unlock()

	return transport != nil && transport.IsConnected()
}

// currentTransport returns the live transport, or nil when disconnected.
func (e *Engine) currentTransport() Transport {
	e.lock()
	defer e.unlock()
	return e.transport
}

// PublishTelemetry formats and publishes one mixed report of property
// values and event triggers, then awaits every acknowledgement.
//
// Keys outside the object model are dropped with a warning. The report
// succeeds only when every envelope published and every acknowledgement
// arrived positive within the deadline.
func (e *Engine) PublishTelemetry(values map[string]any) bool {
	e.lock()
	formatter := e.formatter
	transport := e.transport
	e.unlock()

	if formatter == nil || transport == nil {
		e.log.Warn("telemetry before session established")
		return false
	}

	batch := formatter.Telemetry(values)
	if len(batch.Envelopes) == 0 {
		return true
	}

	ok := true
	awaiting := make([]Envelope, 0, len(batch.Envelopes))
	for _, env := range batch.Envelopes {
		if err := transport.Publish(env.Topic, env.Payload, byte(e.cfg.MQTT.QoS), false); err != nil {
			e.log.Warn("telemetry publish failed", "topic", env.Topic, "error", err)
			e.table.Forget(env.ID)
			e.journalOutcome("telemetry", env, false, err.Error())
			ok = false
			continue
		}
		awaiting = append(awaiting, env)
	}

	for _, env := range awaiting {
		acked := e.table.Await(env.ID, e.ackTimeout)
		e.journalOutcome("telemetry", env, acked, "")
		if !acked {
			ok = false
		}
	}

	return ok
}

// OTAInform reports one module's installed version to the OTA service. The
// inform topic has no reply channel, so success means the publish went out.
func (e *Engine) OTAInform(version, module string) bool {
	e.lock()
	formatter := e.formatter
	transport := e.transport
	e.unlock()

	if formatter == nil || transport == nil {
		return false
	}

	env := formatter.OTAInform(version, module)
	// No reply will arrive for this identifier.
	e.table.Forget(env.ID)

	err := transport.Publish(env.Topic, env.Payload, byte(e.cfg.MQTT.QoS), false)
	e.journalOutcome("ota_inform", env, err == nil, errDetail(err))
	if err != nil {
		e.log.Warn("ota inform failed", "module", module, "error", err)
		return false
	}
	return true
}

// DeviceReport informs the OTA service of both module versions.
func (e *Engine) DeviceReport() bool {
	mcu := e.OTAInform(e.cfg.Cloud.MCUVersion, e.cfg.Cloud.MCUName)
	fw := e.OTAInform(e.cfg.Cloud.FirmwareVersion, e.cfg.Cloud.FirmwareName)
	return mcu && fw
}

// OTAProgress reports upgrade progress and awaits the acknowledgement.
// Step -1 reports a user-cancelled upgrade.
func (e *Engine) OTAProgress(step int, desc, module string) bool {
	return e.publishAwait("ota_progress", func(f *Formatter) (Envelope, error) {
		return f.OTAProgress(step, desc, module), nil
	})
}

// OTAAction accepts or declines a pushed upgrade. Action 1 starts the
// upgrade by reporting step 1; action 0 declines it. Any other action is
// rejected.
func (e *Engine) OTAAction(action int, module string) bool {
	switch action {
	case 1:
		return e.OTAProgress(1, "", module)
	case 0:
		return e.OTAProgress(-1, "User cancels upgrade.", module)
	default:
		e.log.Warn("invalid ota action", "action", action)
		return false
	}
}

// FirmwareGet requests the active firmware plan for one module and awaits
// the reply.
func (e *Engine) FirmwareGet(module string) bool {
	return e.publishAwait("firmware_get", func(f *Formatter) (Envelope, error) {
		return f.FirmwareGet(module), nil
	})
}

// OTARequest asks the OTA service for pending upgrade plans covering both
// module identities.
func (e *Engine) OTARequest() bool {
	mcu := e.FirmwareGet(e.cfg.Cloud.MCUName)
	fw := e.FirmwareGet(e.cfg.Cloud.FirmwareName)
	return mcu && fw
}

// FileDownload requests one firmware file block and awaits the reply. The
// params carry the file token, block size and offset.
func (e *Engine) FileDownload(params map[string]any) bool {
	return e.publishAwait("file_download", func(f *Formatter) (Envelope, error) {
		return f.FileDownload(params)
	})
}

// publishAwait runs the publish-and-wait cycle for one single-envelope
// request family.
func (e *Engine) publishAwait(method string, build func(*Formatter) (Envelope, error)) bool {
	e.lock()
	formatter := e.formatter
	transport := e.transport
	e.unlock()

	if formatter == nil || transport == nil {
		return false
	}

	env, err := build(formatter)
	if err != nil {
		e.log.Warn("request encoding failed", "method", method, "error", err)
		return false
	}
	if err := transport.Publish(env.Topic, env.Payload, byte(e.cfg.MQTT.QoS), false); err != nil {
		e.log.Warn("publish failed", "method", method, "topic", env.Topic, "error", err)
		e.table.Forget(env.ID)
		e.journalOutcome(method, env, false, err.Error())
		return false
	}

	acked := e.table.Await(env.ID, e.ackTimeout)
	e.journalOutcome(method, env, acked, "")
	return acked
}

// ReplyRRPC publishes an application reply to an inbound RPC request.
// Replies are fire-and-forget: the platform does not acknowledge them.
//
// Parameters:
//   - requestTopic: The topic the request arrived on
//   - data: Reply body; bytes and strings pass through verbatim, anything
//     else is JSON-encoded
func (e *Engine) ReplyRRPC(requestTopic string, data any) bool {
	transport := e.currentTransport()
	if transport == nil {
		return false
	}

	requestID := RRPCRequestID(requestTopic)
	if requestID == "" {
		e.log.Warn("rrpc reply to non-request topic", "topic", requestTopic)
		return false
	}

	payload, err := RRPCReply(data)
	if err != nil {
		e.log.Warn("rrpc reply encoding failed", "error", err)
		return false
	}

	topic := e.topics.RRPCResponse(requestID)
	if err := transport.Publish(topic, payload, byte(e.cfg.MQTT.QoS), false); err != nil {
		e.log.Warn("rrpc reply publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// SubscribeEvents adds an observer for upward notifications and returns its
// removal token.
func (e *Engine) SubscribeEvents(obs Observer) int {
	return e.observers.Subscribe(obs)
}

// UnsubscribeEvents removes a previously subscribed observer.
func (e *Engine) UnsubscribeEvents(token int) {
	e.observers.Unsubscribe(token)
}

// journalOutcome records one publish outcome. Recording is best-effort;
// a journal failure never fails the request.
func (e *Engine) journalOutcome(method string, env Envelope, success bool, detail string) {
	if e.recorder == nil {
		return
	}

	entry := &journal.Entry{
		Method:    method,
		Topic:     env.Topic,
		MessageID: env.ID,
		Success:   success,
		Detail:    detail,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.recorder.Record(ctx, entry); err != nil {
		e.log.Warn("journal write failed", "error", err)
	}
}

// errDetail renders an error for the journal detail column.
func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
