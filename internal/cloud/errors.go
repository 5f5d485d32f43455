package cloud

import "errors"

// Domain-specific errors for the sync engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSchema is returned when the object model document is malformed.
	// Schema failures are fatal: the engine cannot start without a model.
	ErrSchema = errors.New("cloud: invalid object model schema")

	// ErrMalformedPayload is returned when an inbound message is missing
	// the keys its kind requires. The failure is local to that message.
	ErrMalformedPayload = errors.New("cloud: malformed inbound payload")
)
