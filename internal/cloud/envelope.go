package cloud

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
)

// IDSource supplies correlation identifiers to the formatter. Satisfied by
// Engine.nextID, which draws from the allocator and registers with the
// correlation table in one step.
type IDSource interface {
	NextID() string
}

// Envelope is one serialised outbound request: the topic to publish on, the
// correlation identifier embedded in the body, and the body itself.
type Envelope struct {
	Topic   string
	ID      string
	Payload []byte
}

// TelemetryBatch is the output of formatting one telemetry report: the
// envelopes to publish plus the identifiers whose acknowledgements to await.
type TelemetryBatch struct {
	Envelopes []Envelope
	IDs       []string
}

// requestBody is the platform request envelope. Sys is omitted on request
// families that do not carry it.
type requestBody struct {
	ID      string     `json:"id"`
	Version string     `json:"version"`
	Sys     *sysFields `json:"sys,omitempty"`
	Params  any        `json:"params"`
	Method  string     `json:"method,omitempty"`
}

// sysFields requests explicit acknowledgement delivery.
type sysFields struct {
	Ack int `json:"ack"`
}

// timedValue pairs a reported value with its capture time in epoch
// milliseconds.
type timedValue struct {
	Value any   `json:"value"`
	Time  int64 `json:"time"`
}

// protocolVersion is the envelope version expected by the platform.
const protocolVersion = "1.0"

// Formatter builds outbound request envelopes. Values are validated against
// the object model; unknown identifiers are logged and dropped rather than
// failing the batch.
type Formatter struct {
	model  *ObjectModel
	topics Topics
	ids    IDSource
	log    *logging.Logger

	// now is swapped in tests to pin timestamps.
	now func() time.Time
}

// NewFormatter creates a formatter bound to one object model and device
// identity.
func NewFormatter(model *ObjectModel, topics Topics, ids IDSource, log *logging.Logger) *Formatter {
	return &Formatter{
		model:  model,
		topics: topics,
		ids:    ids,
		log:    log,
		now:    time.Now,
	}
}

// Telemetry formats one mixed report of property values and event triggers.
//
// All property values merge into a single envelope on the property post
// topic; each event produces its own envelope on that event's post topic.
// Keys declared in neither category are logged and dropped, as are property
// values JSON cannot encode. The batch may be empty when every key was
// dropped.
//
// Parameters:
//   - values: Identifier to value map; event identifiers trigger the event
//     and their values are ignored
//
// Returns:
//   - TelemetryBatch: Envelopes to publish and identifiers to await
func (f *Formatter) Telemetry(values map[string]any) TelemetryBatch {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	nowMillis := f.now().UnixMilli()

	var batch TelemetryBatch
	properties := make(map[string]timedValue)

	for _, key := range keys {
		switch {
		case f.model.Contains(CategoryProperty, key):
			if _, err := json.Marshal(values[key]); err != nil {
				f.log.Warn("dropping unencodable value", "identifier", key, "error", err)
				continue
			}
			properties[key] = timedValue{Value: values[key], Time: nowMillis}
		case f.model.Contains(CategoryEvent, key):
			env := f.eventEnvelope(key, nowMillis)
			batch.Envelopes = append(batch.Envelopes, env)
			batch.IDs = append(batch.IDs, env.ID)
		default:
			f.log.Warn("dropping key not in object model", "identifier", key)
		}
	}

	if len(properties) > 0 {
		env := f.propertyEnvelope(properties)
		batch.Envelopes = append(batch.Envelopes, env)
		batch.IDs = append(batch.IDs, env.ID)
	}

	return batch
}

// propertyEnvelope merges all property values into one post request.
func (f *Formatter) propertyEnvelope(properties map[string]timedValue) Envelope {
	id := f.ids.NextID()
	body := requestBody{
		ID:      id,
		Version: protocolVersion,
		Sys:     &sysFields{Ack: 1},
		Params:  properties,
		Method:  "thing.event.property.post",
	}
	return Envelope{Topic: f.topics.PropertyPost(), ID: id, Payload: mustJSON(body)}
}

// eventEnvelope builds one event post request. Event parameters carry an
// empty value object; the platform only needs the trigger and its time.
func (f *Formatter) eventEnvelope(event string, nowMillis int64) Envelope {
	id := f.ids.NextID()
	body := requestBody{
		ID:      id,
		Version: protocolVersion,
		Sys:     &sysFields{Ack: 1},
		Params:  timedValue{Value: map[string]any{}, Time: nowMillis},
		Method:  fmt.Sprintf("thing.event.%s.post", event),
	}
	return Envelope{Topic: f.topics.EventPost(event), ID: id, Payload: mustJSON(body)}
}

// OTAInform builds the module version report.
func (f *Formatter) OTAInform(version, module string) Envelope {
	id := f.ids.NextID()
	body := struct {
		ID     string `json:"id"`
		Params any    `json:"params"`
	}{
		ID: id,
		Params: map[string]string{
			"version": version,
			"module":  module,
		},
	}
	return Envelope{Topic: f.topics.OTADeviceInform(), ID: id, Payload: mustJSON(body)}
}

// OTAProgress builds the upgrade progress report. Step -1 reports a
// user-cancelled upgrade.
func (f *Formatter) OTAProgress(step int, desc, module string) Envelope {
	id := f.ids.NextID()
	body := struct {
		ID     string `json:"id"`
		Params any    `json:"params"`
	}{
		ID: id,
		Params: map[string]any{
			"step":   step,
			"desc":   desc,
			"module": module,
		},
	}
	return Envelope{Topic: f.topics.OTADeviceProgress(), ID: id, Payload: mustJSON(body)}
}

// FirmwareGet builds the firmware plan request for one module.
func (f *Formatter) FirmwareGet(module string) Envelope {
	id := f.ids.NextID()
	body := requestBody{
		ID:      id,
		Version: protocolVersion,
		Params:  map[string]string{"module": module},
		Method:  "thing.ota.firmware.get",
	}
	return Envelope{Topic: f.topics.FirmwareGet(), ID: id, Payload: mustJSON(body)}
}

// FileDownload builds one firmware file block request. Params pass through
// verbatim: file token, block size and offset are chosen by the caller. An
// unencodable params value fails before a correlation identifier is drawn.
func (f *Formatter) FileDownload(params map[string]any) (Envelope, error) {
	if _, err := json.Marshal(params); err != nil {
		return Envelope{}, fmt.Errorf("encoding file download params: %w", err)
	}

	id := f.ids.NextID()
	body := requestBody{
		ID:      id,
		Version: protocolVersion,
		Params:  params,
	}
	return Envelope{Topic: f.topics.FileDownload(), ID: id, Payload: mustJSON(body)}, nil
}

// RRPCReply serialises an application-supplied RPC reply body.
//
// Byte slices pass through verbatim, strings are sent as their bytes, and
// anything else is JSON-encoded.
func RRPCReply(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding rrpc reply: %w", err)
		}
		return payload, nil
	}
}

// mustJSON marshals a request body. The body types contain only
// marshal-safe values, so failure indicates a programming error.
func mustJSON(body any) []byte {
	payload, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("cloud: marshal request body: %v", err))
	}
	return payload
}
