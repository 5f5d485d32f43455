package cloud

import "sync"

// EventKind is the closed set of upward notification kinds delivered to
// observers. New kinds require a new constant; there is no free-form kind.
type EventKind int

// Upward notification kinds.
const (
	// EventObjectModel carries cloud-initiated property writes as ordered
	// key-value pairs.
	EventObjectModel EventKind = iota

	// EventOTAPlain carries an upgrade push or firmware plan payload.
	EventOTAPlain

	// EventFileDownload carries a firmware file block reply payload.
	EventFileDownload

	// EventRRPCRequest carries an inbound RPC request; Topic identifies the
	// per-request reply channel.
	EventRRPCRequest

	// EventOTAStatus reports an upgrade becoming available, with module and
	// version pairs.
	EventOTAStatus
)

// String returns the kind's name for logging.
func (k EventKind) String() string {
	switch k {
	case EventObjectModel:
		return "object_model"
	case EventOTAPlain:
		return "ota_plain"
	case EventFileDownload:
		return "ota_file_download"
	case EventRRPCRequest:
		return "rrpc_request"
	case EventOTAStatus:
		return "ota_status"
	default:
		return "unknown"
	}
}

// KeyValue is one key-value pair from an inbound payload. Pairs preserve a
// deterministic order (sorted by key) so observers see stable sequences.
type KeyValue struct {
	Key   string
	Value any
}

// Event is one upward notification from the engine to its observers.
//
// Pairs is populated for EventObjectModel and EventOTAStatus; Data carries
// the raw payload for the remaining kinds. Topic is set for EventRRPCRequest
// so the application can address its reply.
type Event struct {
	Kind  EventKind
	Topic string
	Pairs []KeyValue
	Data  []byte
}

// Observer receives upward notifications. Callbacks run on the transport
// delivery goroutine and must not block; hand off long work to another
// goroutine.
type Observer interface {
	OnCloudEvent(evt Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(evt Event)

// OnCloudEvent calls f(evt).
func (f ObserverFunc) OnCloudEvent(evt Event) {
	f(evt)
}

// ObserverRegistry holds the engine's observer set. Observers are notified
// in subscription order; unsubscribing is by the token returned at
// subscription time.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type ObserverRegistry struct {
	mu        sync.Mutex
	nextToken int
	entries   []observerEntry
}

type observerEntry struct {
	token    int
	observer Observer
}

// NewObserverRegistry creates an empty registry.
func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{}
}

// Subscribe adds an observer and returns its removal token.
func (r *ObserverRegistry) Subscribe(obs Observer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := r.nextToken
	r.nextToken++
	r.entries = append(r.entries, observerEntry{token: token, observer: obs})
	return token
}

// Unsubscribe removes the observer registered under token. Unknown tokens
// are a no-op.
func (r *ObserverRegistry) Unsubscribe(token int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.entries {
		if entry.token == token {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Notify delivers evt to every observer in subscription order.
func (r *ObserverRegistry) Notify(evt Event) {
	r.mu.Lock()
	observers := make([]Observer, len(r.entries))
	for i, entry := range r.entries {
		observers[i] = entry.observer
	}
	r.mu.Unlock()

	for _, obs := range observers {
		obs.OnCloudEvent(evt)
	}
}

// Len returns the number of registered observers.
func (r *ObserverRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
