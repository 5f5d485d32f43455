package cloud

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
)

// Dispatcher routes inbound messages: acknowledgements resolve their pending
// correlation entry, cloud-initiated messages become observer notifications.
//
// Dispatch runs on the transport delivery goroutine. A malformed payload
// fails that one message and leaves the session untouched.
type Dispatcher struct {
	table     *CorrelationTable
	observers *ObserverRegistry
	log       *logging.Logger
}

// NewDispatcher creates a dispatcher wired to one correlation table and
// observer registry.
func NewDispatcher(table *CorrelationTable, observers *ObserverRegistry, log *logging.Logger) *Dispatcher {
	return &Dispatcher{table: table, observers: observers, log: log}
}

// Dispatch classifies and handles one inbound message.
//
// Unknown topics are ignored. Malformed payloads return an
// ErrMalformedPayload-wrapped error; the caller logs and continues.
func (d *Dispatcher) Dispatch(topic string, payload []byte) error {
	kind := Classify(topic)
	if kind == KindUnknown {
		d.log.Debug("ignoring message on unknown topic", "topic", topic)
		return nil
	}

	var body map[string]any
	if kind != KindRRPCRequest {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedPayload, kind, err)
		}
	}

	switch kind {
	case KindPostReply:
		return d.handlePostReply(body)
	case KindPropertySet:
		return d.handlePropertySet(body)
	case KindOTAUpgrade:
		return d.handleOTAPush(body, 1000)
	case KindFirmwareGetReply:
		return d.handleOTAPush(body, 200)
	case KindFileDownloadReply:
		return d.handleFileDownloadReply(body, payload)
	case KindRRPCRequest:
		d.observers.Notify(Event{Kind: EventRRPCRequest, Topic: topic, Data: payload})
		return nil
	}

	return nil
}

// handlePostReply resolves the correlation entry for one property or event
// post acknowledgement.
func (d *Dispatcher) handlePostReply(body map[string]any) error {
	id, ok := stringField(body, "id")
	if !ok {
		return fmt.Errorf("%w: post_reply missing id", ErrMalformedPayload)
	}
	code, ok := intField(body, "code")
	if !ok {
		return fmt.Errorf("%w: post_reply missing code", ErrMalformedPayload)
	}

	d.table.Resolve(id, code == 200)
	return nil
}

// handlePropertySet converts a cloud-initiated property write into an
// ordered key-value notification.
func (d *Dispatcher) handlePropertySet(body map[string]any) error {
	method, _ := stringField(body, "method")
	if method != "thing.service.property.set" {
		return fmt.Errorf("%w: property set carries method %q", ErrMalformedPayload, method)
	}
	params, ok := body["params"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: property set missing params", ErrMalformedPayload)
	}

	d.observers.Notify(Event{Kind: EventObjectModel, Pairs: sortedPairs(params)})
	return nil
}

// handleOTAPush handles upgrade pushes and firmware plan replies. Both
// resolve any pending correlation by success code and, on success, announce
// the new firmware before handing the raw plan to observers.
func (d *Dispatcher) handleOTAPush(body map[string]any, successCode int) error {
	id, ok := stringField(body, "id")
	if !ok {
		return fmt.Errorf("%w: ota message missing id", ErrMalformedPayload)
	}
	code, ok := intField(body, "code")
	if !ok {
		return fmt.Errorf("%w: ota message missing code", ErrMalformedPayload)
	}

	success := code == successCode
	d.table.Resolve(id, success)
	if !success {
		d.log.Warn("ota message carries failure code", "code", code)
		return nil
	}

	data, ok := body["data"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: ota message missing data", ErrMalformedPayload)
	}

	module, _ := stringField(data, "module")
	version, _ := stringField(data, "version")
	d.observers.Notify(Event{
		Kind: EventOTAStatus,
		Pairs: []KeyValue{
			{Key: "module", Value: module},
			{Key: "state", Value: 1},
			{Key: "version", Value: version},
		},
	})

	raw := mustJSON(data)
	d.observers.Notify(Event{Kind: EventOTAPlain, Data: raw})
	return nil
}

// handleFileDownloadReply resolves the block request and forwards the reply
// to observers on success.
func (d *Dispatcher) handleFileDownloadReply(body map[string]any, payload []byte) error {
	id, ok := stringField(body, "id")
	if !ok {
		return fmt.Errorf("%w: download reply missing id", ErrMalformedPayload)
	}
	code, ok := intField(body, "code")
	if !ok {
		return fmt.Errorf("%w: download reply missing code", ErrMalformedPayload)
	}

	success := code == 200
	d.table.Resolve(id, success)
	if success {
		d.observers.Notify(Event{Kind: EventFileDownload, Data: payload})
	}
	return nil
}

// sortedPairs flattens a params map into key-sorted pairs.
func sortedPairs(params map[string]any) []KeyValue {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]KeyValue, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, KeyValue{Key: key, Value: params[key]})
	}
	return pairs
}

// stringField reads a string-valued key, coercing JSON numbers so numeric
// identifiers survive either encoding.
func stringField(body map[string]any, key string) (string, bool) {
	switch v := body[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	default:
		return "", false
	}
}

// intField reads an integer-valued key, coercing the string form the
// platform uses for some codes.
func intField(body map[string]any, key string) (int, bool) {
	switch v := body[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
