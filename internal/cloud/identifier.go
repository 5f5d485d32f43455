package cloud

import (
	"math"
	"strconv"
	"sync"
)

// IdentifierAllocator issues correlation identifiers for outbound requests.
//
// Identifiers are strictly increasing within a session, rendered as decimal
// strings for wire use, and wrap to zero after reaching the representable
// maximum. The allocator never blocks.
//
// Thread Safety:
//   - Next is safe for concurrent use from multiple goroutines.
type IdentifierAllocator struct {
	mu   sync.Mutex
	next uint32
	max  uint32
}

// NewIdentifierAllocator creates an allocator starting at zero.
func NewIdentifierAllocator() *IdentifierAllocator {
	return &IdentifierAllocator{max: math.MaxUint32}
}

// Next returns the next correlation identifier.
//
// After the maximum is issued the counter wraps to zero. An identifier
// issued before the wrap could still be in flight when the counter comes
// back around; callers that register identifiers in a CorrelationTable
// detect the collision there and draw again (see Engine.nextID).
func (a *IdentifierAllocator) Next() string {
	a.mu.Lock()
	id := a.next
	if a.next == a.max {
		a.next = 0
	} else {
		a.next++
	}
	a.mu.Unlock()

	return strconv.FormatUint(uint64(id), 10)
}
