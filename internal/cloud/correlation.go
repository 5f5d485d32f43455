package cloud

import (
	"sync"
	"time"
)

// CorrelationTable tracks in-flight requests awaiting an asynchronous
// platform acknowledgement. It is the only state shared between the caller
// goroutine (publish-and-wait) and the transport delivery goroutine
// (resolve).
//
// Each pending entry owns a one-shot completion channel and each waiter
// arms its own deadline timer, so any number of awaits may overlap. The
// outcome slot is populated exactly once, by whichever of Resolve or the
// deadline comes first, and consumed exactly once by the waiter, which
// removes the entry on return.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - At most one waiter per identifier is supported.
type CorrelationTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// pendingRequest is one outcome slot. done is closed exactly once, after
// outcome is written under the table lock.
type pendingRequest struct {
	done     chan struct{}
	outcome  bool
	resolved bool
}

// NewCorrelationTable creates an empty table.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{
		pending: make(map[string]*pendingRequest),
	}
}

// Register reserves an identifier with no outcome yet.
//
// It returns false when the identifier is already in flight - the wrap
// collision case - in which case the caller must draw a fresh identifier.
func (t *CorrelationTable) Register(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return false
	}
	t.pending[id] = &pendingRequest{done: make(chan struct{})}
	return true
}

// Resolve delivers the outcome for a pending identifier.
//
// Resolving an unknown or already-resolved identifier is a no-op, so late
// or duplicate acknowledgements from the platform are harmless.
func (t *CorrelationTable) Resolve(id string, outcome bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[id]
	if !ok || req.resolved {
		return
	}
	req.resolved = true
	req.outcome = outcome
	close(req.done)
}

// Await blocks until the identifier is resolved or the deadline fires.
//
// On return the entry is removed: the outcome is consumed exactly once and
// the identifier becomes free for reuse. A deadline expiry forces a false
// outcome. Awaiting an unregistered identifier returns false immediately.
//
// Parameters:
//   - id: Identifier previously reserved with Register
//   - timeout: Acknowledgement deadline
//
// Returns:
//   - bool: true iff Resolve(id, true) arrived before the deadline
func (t *CorrelationTable) Await(id string, timeout time.Duration) bool {
	t.mu.Lock()
	req, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome bool
	select {
	case <-req.done:
		outcome = req.outcome
	case <-timer.C:
		// A resolve can still land between the deadline firing and the
		// entry being removed; prefer the delivered outcome when it did.
		select {
		case <-req.done:
			outcome = req.outcome
		default:
			outcome = false
		}
	}

	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()

	return outcome
}

// Forget drops a reserved identifier without waiting. Used when the publish
// that would have produced an acknowledgement never went out.
func (t *CorrelationTable) Forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// PendingCount returns the number of in-flight identifiers.
func (t *CorrelationTable) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
