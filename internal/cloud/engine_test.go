package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/wcache/cloudsync-core/internal/infrastructure/config"
	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
	"github.com/wcache/cloudsync-core/internal/infrastructure/mqtt"
	"github.com/wcache/cloudsync-core/internal/journal"
)

// fakeTransport is an in-memory broker stand-in. Every subscription shares
// the engine's handler, so deliver() pushes a message through the real
// dispatch path.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	handler    mqtt.MessageHandler
	subscribed []string
	published  []fakePublish
	failAll    bool

	// onPublish, when set, runs synchronously after each successful publish.
	// Tests use it to acknowledge requests before the engine awaits.
	onPublish func(topic string, payload []byte)
}

type fakePublish struct {
	topic   string
	payload []byte
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	if f.failAll {
		f.mu.Unlock()
		return mqtt.ErrPublishFailed
	}
	f.published = append(f.published, fakePublish{topic: topic, payload: payload})
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeTransport) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// deliver pushes an inbound message through the subscribed handler.
func (f *fakeTransport) deliver(topic string, payload string) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		_ = handler(topic, []byte(payload))
	}
}

func (f *fakeTransport) publishedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	topics := make([]string, len(f.published))
	for i, p := range f.published {
		topics[i] = p.topic
	}
	return topics
}

func (f *fakeTransport) hasSubscription(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subscribed {
		if sub == topic {
			return true
		}
	}
	return false
}

// requestID extracts the correlation id from a published request body.
func requestID(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshalling published request: %v", err)
	}
	return body.ID
}

func testEngineConfig() config.Config {
	return config.Config{
		Cloud: config.CloudConfig{
			ProductKey:      "pk1",
			DeviceKey:       "dev1",
			DeviceSecret:    "secret123",
			BurningMethod:   1,
			Server:          "iot-as-mqtt.cn-shanghai.aliyuncs.com",
			KeepAlive:       120,
			MCUName:         "mcu",
			MCUVersion:      "1.0.0",
			FirmwareName:    "fw",
			FirmwareVersion: "2.0.0",
		},
		MQTT: config.MQTTConfig{QoS: 1},
	}
}

// newTestEngine builds a connected engine over a fake transport.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeTransport) {
	t.Helper()

	fake := &fakeTransport{}
	dialer := WithDialer(func(_ config.MQTTConfig) (Transport, error) {
		fake.mu.Lock()
		fake.connected = true
		fake.mu.Unlock()
		return fake, nil
	})

	e := New(testEngineConfig(), logging.Default(), append([]Option{dialer}, opts...)...)

	model, err := ParseObjectModel([]byte(sampleSchema))
	if err != nil {
		t.Fatalf("ParseObjectModel() error = %v", err)
	}
	if err := e.RegisterObjectModel(model); err != nil {
		t.Fatalf("RegisterObjectModel() error = %v", err)
	}
	if err := e.Connect(false); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return e, fake
}

// =============================================================================
// Session lifecycle
// =============================================================================

func TestEngine_ConnectRequiresModel(t *testing.T) {
	e := New(testEngineConfig(), logging.Default())

	if err := e.Connect(false); !errors.Is(err, ErrSchema) {
		t.Errorf("Connect() error = %v, want ErrSchema before model registration", err)
	}
}

func TestEngine_RegisterNilModel(t *testing.T) {
	e := New(testEngineConfig(), logging.Default())

	if err := e.RegisterObjectModel(nil); !errors.Is(err, ErrSchema) {
		t.Errorf("RegisterObjectModel(nil) error = %v, want ErrSchema", err)
	}
}

func TestEngine_ConnectSubscribesInboundSet(t *testing.T) {
	_, fake := newTestEngine(t)

	want := []string{
		"/sys/pk1/dev1/thing/event/property/post_reply",
		"/sys/pk1/dev1/thing/service/property/set",
		"/ota/device/upgrade/pk1/dev1",
		"/sys/pk1/dev1/thing/ota/firmware/get_reply",
		"/sys/pk1/dev1/thing/file/download_reply",
		"/sys/pk1/dev1/rrpc/request/+",
		"/sys/pk1/dev1/thing/event/sos_alert/post_reply",
		"/sys/pk1/dev1/thing/event/low_power_alert/post_reply",
	}
	for _, topic := range want {
		if !fake.hasSubscription(topic) {
			t.Errorf("missing subscription %q", topic)
		}
	}
}

func TestEngine_ConnectIdempotent(t *testing.T) {
	dials := 0
	fake := &fakeTransport{connected: true}

	e := New(testEngineConfig(), logging.Default(), WithDialer(func(_ config.MQTTConfig) (Transport, error) {
		dials++
		fake.mu.Lock()
		fake.connected = true
		fake.mu.Unlock()
		return fake, nil
	}))

	model, _ := ParseObjectModel([]byte(sampleSchema))
	if err := e.RegisterObjectModel(model); err != nil {
		t.Fatalf("RegisterObjectModel() error = %v", err)
	}

	if err := e.Connect(false); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := e.Connect(false); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1 for idempotent connect", dials)
	}

	if err := e.Connect(true); err != nil {
		t.Fatalf("forced Connect() error = %v", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2 after forced reconnect", dials)
	}
}

func TestEngine_ConnectClosesDroppedSession(t *testing.T) {
	var transports []*fakeTransport

	e := New(testEngineConfig(), logging.Default(), WithDialer(func(_ config.MQTTConfig) (Transport, error) {
		fake := &fakeTransport{connected: true}
		transports = append(transports, fake)
		return fake, nil
	}))

	model, _ := ParseObjectModel([]byte(sampleSchema))
	if err := e.RegisterObjectModel(model); err != nil {
		t.Fatalf("RegisterObjectModel() error = %v", err)
	}
	if err := e.Connect(false); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Simulate a broker-side drop without Disconnect being called.
	transports[0].mu.Lock()
	transports[0].connected = false
	transports[0].mu.Unlock()

	if err := e.Connect(false); err != nil {
		t.Fatalf("Connect() after drop error = %v", err)
	}
	if len(transports) != 2 {
		t.Fatalf("dialed %d transports, want 2 after dropped session", len(transports))
	}
	if !transports[0].wasClosed() {
		t.Error("dropped transport not closed before redial")
	}
	if !e.Status() {
		t.Error("Status() = false after reconnect")
	}
}

func TestEngine_DialFailure(t *testing.T) {
	e := New(testEngineConfig(), logging.Default(), WithDialer(func(_ config.MQTTConfig) (Transport, error) {
		return nil, mqtt.ErrConnectionFailed
	}))
	model, _ := ParseObjectModel([]byte(sampleSchema))
	_ = e.RegisterObjectModel(model)

	if err := e.Connect(false); !errors.Is(err, mqtt.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want dial failure", err)
	}
}

func TestEngine_Disconnect(t *testing.T) {
	e, fake := newTestEngine(t)

	if !e.Status() {
		t.Error("Status() = false after connect")
	}
	if !e.Disconnect() {
		t.Error("Disconnect() = false, want true")
	}
	if fake.IsConnected() {
		t.Error("transport still connected after Disconnect")
	}
	if e.Status() {
		t.Error("Status() = true after disconnect")
	}

	// Disconnecting an idle engine also succeeds.
	if !e.Disconnect() {
		t.Error("second Disconnect() = false, want true")
	}
}

// =============================================================================
// Telemetry
// =============================================================================

// ackAll acknowledges every request with the given code on the property
// post reply topic. Resolution is keyed by identifier, not topic.
func ackAll(fake *fakeTransport, code int) {
	fake.onPublish = func(_ string, payload []byte) {
		var body struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(payload, &body) != nil || body.ID == "" {
			return
		}
		reply := fmt.Sprintf(`{"id":%q,"code":%d}`, body.ID, code)
		fake.deliver("/sys/pk1/dev1/thing/event/property/post_reply", reply)
	}
}

func TestEngine_PublishTelemetry_Acknowledged(t *testing.T) {
	e, fake := newTestEngine(t)
	ackAll(fake, 200)

	ok := e.PublishTelemetry(map[string]any{
		"power_switch": true,
		"sos_alert":    nil,
	})
	if !ok {
		t.Error("PublishTelemetry() = false, want true with positive acks")
	}

	topics := fake.publishedTopics()
	if len(topics) != 2 {
		t.Fatalf("published %d envelopes, want event plus property batch", len(topics))
	}
}

func TestEngine_PublishTelemetry_NegativeAck(t *testing.T) {
	e, fake := newTestEngine(t)
	ackAll(fake, 6200)

	if e.PublishTelemetry(map[string]any{"power_switch": true}) {
		t.Error("PublishTelemetry() = true, want false on negative ack")
	}
}

func TestEngine_PublishTelemetry_Timeout(t *testing.T) {
	e, _ := newTestEngine(t, WithAckTimeout(30*time.Millisecond))

	if e.PublishTelemetry(map[string]any{"power_switch": true}) {
		t.Error("PublishTelemetry() = true, want false when no ack arrives")
	}
	if n := e.table.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d after timeout, want 0", n)
	}
}

func TestEngine_PublishTelemetry_UnknownKeysOnly(t *testing.T) {
	e, fake := newTestEngine(t)

	if !e.PublishTelemetry(map[string]any{"energy": 85}) {
		t.Error("PublishTelemetry() = false, want vacuous true for empty batch")
	}
	if len(fake.publishedTopics()) != 0 {
		t.Error("unknown-key report still published envelopes")
	}
}

func TestEngine_PublishTelemetry_UnencodableValue(t *testing.T) {
	e, fake := newTestEngine(t)
	ackAll(fake, 200)

	ok := e.PublishTelemetry(map[string]any{
		"power_switch": true,
		"local_time":   math.NaN(),
	})
	if !ok {
		t.Error("PublishTelemetry() = false, want true with NaN value dropped")
	}
	if len(fake.publishedTopics()) != 1 {
		t.Errorf("published %d envelopes, want 1 without the NaN value", len(fake.publishedTopics()))
	}
	if n := e.table.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestEngine_PublishTelemetry_PublishFailure(t *testing.T) {
	e, fake := newTestEngine(t)
	fake.mu.Lock()
	fake.failAll = true
	fake.mu.Unlock()

	if e.PublishTelemetry(map[string]any{"power_switch": true}) {
		t.Error("PublishTelemetry() = true, want false on publish failure")
	}
	if n := e.table.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0 (failed publish forgotten)", n)
	}
}

func TestEngine_PublishTelemetry_BeforeConnect(t *testing.T) {
	e := New(testEngineConfig(), logging.Default())
	model, _ := ParseObjectModel([]byte(sampleSchema))
	_ = e.RegisterObjectModel(model)

	if e.PublishTelemetry(map[string]any{"power_switch": true}) {
		t.Error("PublishTelemetry() = true without a session, want false")
	}
}

// =============================================================================
// OTA
// =============================================================================

func TestEngine_OTAInform(t *testing.T) {
	e, fake := newTestEngine(t)

	if !e.OTAInform("1.2.0", "modem") {
		t.Error("OTAInform() = false, want true on successful publish")
	}

	topics := fake.publishedTopics()
	if len(topics) != 1 || topics[0] != "/ota/device/inform/pk1/dev1" {
		t.Errorf("published topics = %v, want single inform", topics)
	}
	if n := e.table.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0 (inform has no reply)", n)
	}
}

func TestEngine_DeviceReport(t *testing.T) {
	e, fake := newTestEngine(t)

	if !e.DeviceReport() {
		t.Error("DeviceReport() = false, want true")
	}
	if got := len(fake.publishedTopics()); got != 2 {
		t.Errorf("published %d informs, want one per module", got)
	}
}

func TestEngine_OTAProgress(t *testing.T) {
	e, fake := newTestEngine(t)
	ackAll(fake, 200)

	if !e.OTAProgress(50, "halfway", "modem") {
		t.Error("OTAProgress() = false, want true with ack")
	}

	topics := fake.publishedTopics()
	if topics[0] != "/ota/device/progress/pk1/dev1" {
		t.Errorf("progress published to %q", topics[0])
	}
}

func TestEngine_OTAProgress_Timeout(t *testing.T) {
	e, _ := newTestEngine(t, WithAckTimeout(50*time.Millisecond))

	start := time.Now()
	if e.OTAProgress(-1, "cancelled", "modem") {
		t.Error("OTAProgress() = true, want false when no reply arrives")
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, before the deadline", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("returned after %v, long past the deadline", elapsed)
	}
}

func TestEngine_OTAAction(t *testing.T) {
	e, fake := newTestEngine(t)
	ackAll(fake, 200)

	if !e.OTAAction(1, "modem") {
		t.Error("OTAAction(1) = false, want accepted upgrade")
	}
	if !e.OTAAction(0, "modem") {
		t.Error("OTAAction(0) = false, want declined upgrade")
	}

	fake.mu.Lock()
	decline := fake.published[len(fake.published)-1]
	fake.mu.Unlock()

	var body struct {
		Params struct {
			Step int    `json:"step"`
			Desc string `json:"desc"`
		} `json:"params"`
	}
	if err := json.Unmarshal(decline.payload, &body); err != nil {
		t.Fatalf("unmarshalling decline body: %v", err)
	}
	if body.Params.Step != -1 || body.Params.Desc != "User cancels upgrade." {
		t.Errorf("decline params = %+v, want step -1 with cancel description", body.Params)
	}

	if e.OTAAction(2, "modem") {
		t.Error("OTAAction(2) = true, want rejection of unknown action")
	}
}

func TestEngine_FirmwareGet(t *testing.T) {
	e, fake := newTestEngine(t)

	capture := &captureObserver{}
	e.SubscribeEvents(capture)

	fake.onPublish = func(_ string, payload []byte) {
		var body struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(payload, &body) != nil {
			return
		}
		reply := fmt.Sprintf(`{"id":%q,"code":200,"data":{"module":"modem","version":"2.1.0"}}`, body.ID)
		fake.deliver("/sys/pk1/dev1/thing/ota/firmware/get_reply", reply)
	}

	if !e.FirmwareGet("modem") {
		t.Error("FirmwareGet() = false, want true with plan reply")
	}

	events := capture.all()
	if len(events) != 2 || events[0].Kind != EventOTAStatus || events[1].Kind != EventOTAPlain {
		t.Errorf("events = %v, want status then plan", events)
	}
}

func TestEngine_FileDownload_UnencodableParams(t *testing.T) {
	e, fake := newTestEngine(t)

	if e.FileDownload(map[string]any{"fileSize": math.Inf(1)}) {
		t.Error("FileDownload() = true, want false for unencodable params")
	}
	if len(fake.publishedTopics()) != 0 {
		t.Error("failed request still published an envelope")
	}
	if n := e.table.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestEngine_OTARequest(t *testing.T) {
	e, fake := newTestEngine(t)
	fake.onPublish = func(_ string, payload []byte) {
		var body struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(payload, &body) != nil {
			return
		}
		reply := fmt.Sprintf(`{"id":%q,"code":200,"data":{"module":"m","version":"1"}}`, body.ID)
		fake.deliver("/sys/pk1/dev1/thing/ota/firmware/get_reply", reply)
	}

	if !e.OTARequest() {
		t.Error("OTARequest() = false, want true")
	}
	if got := len(fake.publishedTopics()); got != 2 {
		t.Errorf("published %d requests, want one per module", got)
	}
}

// =============================================================================
// RPC
// =============================================================================

func TestEngine_ReplyRRPC(t *testing.T) {
	e, fake := newTestEngine(t)

	capture := &captureObserver{}
	e.SubscribeEvents(capture)

	requestTopic := "/sys/pk1/dev1/rrpc/request/777"
	fake.deliver(requestTopic, "ping")

	events := capture.all()
	if len(events) != 1 || events[0].Kind != EventRRPCRequest {
		t.Fatalf("events = %v, want one rrpc request", events)
	}

	if !e.ReplyRRPC(events[0].Topic, "pong") {
		t.Error("ReplyRRPC() = false, want true")
	}

	fake.mu.Lock()
	reply := fake.published[len(fake.published)-1]
	fake.mu.Unlock()

	if reply.topic != "/sys/pk1/dev1/rrpc/response/777" {
		t.Errorf("reply topic = %q, want mirrored response topic", reply.topic)
	}
	if string(reply.payload) != "pong" {
		t.Errorf("reply payload = %q, want verbatim string bytes", reply.payload)
	}
}

func TestEngine_ReplyRRPC_BadTopic(t *testing.T) {
	e, _ := newTestEngine(t)

	if e.ReplyRRPC("/sys/pk1/dev1/thing/service/property/set", "pong") {
		t.Error("ReplyRRPC() = true for non-request topic, want false")
	}
}

// =============================================================================
// Observers and journal
// =============================================================================

func TestEngine_UnsubscribeEvents(t *testing.T) {
	e, fake := newTestEngine(t)

	capture := &captureObserver{}
	token := e.SubscribeEvents(capture)
	e.UnsubscribeEvents(token)

	fake.deliver("/sys/pk1/dev1/rrpc/request/1", "ping")
	if len(capture.all()) != 0 {
		t.Error("unsubscribed observer still received events")
	}
}

// countingRecorder counts journal writes.
type countingRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (c *countingRecorder) Record(_ context.Context, entry *journal.Entry) error {
	c.mu.Lock()
	c.entries = append(c.entries, *entry)
	c.mu.Unlock()
	return nil
}

func TestEngine_JournalsPublishOutcomes(t *testing.T) {
	recorder := &countingRecorder{}
	e, fake := newTestEngine(t, WithJournal(recorder))
	ackAll(fake, 200)

	e.PublishTelemetry(map[string]any{"power_switch": true})
	e.OTAInform("1.0.0", "mcu")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.entries) != 2 {
		t.Fatalf("journalled %d entries, want 2", len(recorder.entries))
	}
	if recorder.entries[0].Method != "telemetry" || !recorder.entries[0].Success {
		t.Errorf("first entry = %+v, want successful telemetry", recorder.entries[0])
	}
	if recorder.entries[1].Method != "ota_inform" {
		t.Errorf("second entry method = %q, want ota_inform", recorder.entries[1].Method)
	}
}
