// Package power schedules periodic low-energy wakes. Between wakes the
// device sleeps using one of four strategies; on each wake the manager
// invokes the registered callback so the application can run a report
// cycle before the next sleep.
package power

import (
	"fmt"
	"sync"
	"time"

	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
)

// Method is the sleep strategy used between wakes.
type Method string

// Sleep strategies. PSM and POWERDOWN need a hardware realtime clock to
// wake from; PM holds a wake lock while the callback runs.
const (
	MethodNull      Method = "NULL"
	MethodPM        Method = "PM"
	MethodPSM       Method = "PSM"
	MethodPowerDown Method = "POWERDOWN"
)

// Valid reports whether m names a known strategy.
func (m Method) Valid() bool {
	switch m {
	case MethodNull, MethodPM, MethodPSM, MethodPowerDown:
		return true
	}
	return false
}

// WakeFunc runs on each wake. The manager waits for it to return before
// arming the next sleep, so the work it starts is never cut off mid-cycle.
type WakeFunc func(method Method)

// Manager drives the periodic wake cycle.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	method  Method
	period  time.Duration
	onWake  WakeFunc
	stop    chan struct{}
	stopped chan struct{}
	running bool
	log     *logging.Logger
}

// NewManager creates a wake manager. It does nothing until Start.
//
// Parameters:
//   - method: Sleep strategy between wakes
//   - period: Interval between wake notifications
//
// Returns:
//   - *Manager: Idle manager
//   - error: Unknown method or non-positive period
func NewManager(method Method, period time.Duration, log *logging.Logger) (*Manager, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("unknown low energy method %q", method)
	}
	if period <= 0 {
		return nil, fmt.Errorf("wake period must be positive, got %v", period)
	}

	return &Manager{
		method: method,
		period: period,
		log:    log.With("component", "power"),
	}, nil
}

// OnWake registers the wake callback, replacing any previous one.
func (m *Manager) OnWake(fn WakeFunc) {
	m.mu.Lock()
	m.onWake = fn
	m.mu.Unlock()
}

// Period returns the configured wake interval.
func (m *Manager) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// SetPeriod changes the wake interval. Takes effect from the next wake.
func (m *Manager) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("wake period must be positive, got %v", period)
	}
	m.mu.Lock()
	m.period = period
	m.mu.Unlock()
	return nil
}

// Method returns the configured sleep strategy.
func (m *Manager) Method() Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.method
}

// Start launches the wake loop. Starting a running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})

	go m.run(m.stop, m.stopped)
	m.log.Info("wake cycle started", "method", string(m.method), "period", m.period)
}

// Stop halts the wake loop and waits for a callback in flight to finish.
// Stopping an idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, stopped := m.stop, m.stopped
	m.mu.Unlock()

	close(stop)
	<-stopped
	m.log.Info("wake cycle stopped")
}

// run sleeps for one period at a time, invoking the callback on each wake.
// The timer is re-armed after the callback returns so a configured period
// change applies cleanly.
func (m *Manager) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	for {
		m.mu.Lock()
		period := m.period
		m.mu.Unlock()

		timer := time.NewTimer(period)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		fn := m.onWake
		method := m.method
		m.mu.Unlock()

		if fn != nil {
			fn(method)
		}
	}
}
