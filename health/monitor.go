package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker reports the current health of a component. Components that can
// compute their health on demand register a Checker instead of pushing
// status updates.
type Checker func() Status

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push statuses with Update or register a Checker that is
// polled when health is read.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// RegisterChecker registers an on-demand health check for a component
func (m *Monitor) RegisterChecker(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
}

// Get retrieves the health status for a named component. Registered checkers
// take precedence over pushed statuses.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, hasChecker := m.checkers[name]
	status, hasStatus := m.statuses[name]
	m.mu.RUnlock()

	if hasChecker {
		s := check()
		s.Component = name
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		return s, true
	}
	return status, hasStatus
}

// GetAll returns the current health of every known component
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses)+len(m.checkers))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.checkers {
		if _, dup := m.statuses[name]; !dup {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	result := make(map[string]Status, len(names))
	for _, name := range names {
		if status, ok := m.Get(name); ok {
			result[name] = status
		}
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checkers, name)
}

// AggregateHealth returns the aggregated health of all components
func (m *Monitor) AggregateHealth(systemName string) Status {
	all := m.GetAll()

	subStatuses := make([]Status, 0, len(all))
	for _, status := range all {
		subStatuses = append(subStatuses, status)
	}
	return Aggregate(systemName, subStatuses)
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.statuses)
	for name := range m.checkers {
		if _, dup := m.statuses[name]; !dup {
			n++
		}
	}
	return n
}

// Handler returns an HTTP handler serving the aggregated health as JSON.
// It responds 200 when healthy or degraded and 503 when unhealthy.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
