package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Check reports the current health of one component.
type Check func(ctx context.Context) Status

// Monitor runs registered checks and keeps the latest status of each.
type Monitor struct {
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	checks   map[string]Check
	statuses map[string]Status
}

// NewMonitor creates a monitor whose aggregate status is reported under name.
func NewMonitor(name string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		name:     name,
		logger:   logger.With("component", "health"),
		checks:   make(map[string]Check),
		statuses: make(map[string]Status),
	}
}

// Register adds or replaces the check for component. It runs on the next Evaluate.
func (m *Monitor) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Remove stops checking component and forgets its last status.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, component)
	delete(m.statuses, component)
}

// Evaluate runs every check once and stores the results. State changes are logged.
func (m *Monitor) Evaluate(ctx context.Context) Status {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	for name, check := range checks {
		status := check(ctx)
		status.Component = name
		if status.Timestamp.IsZero() {
			status.Timestamp = time.Now()
		}
		results[name] = status
	}

	m.mu.Lock()
	for name, status := range results {
		if prev, ok := m.statuses[name]; !ok || prev.Status != status.Status {
			m.logger.Info("Health changed", "check", name, "status", status.Status, "message", status.Message)
		}
		m.statuses[name] = status
	}
	m.mu.Unlock()

	return m.AggregateHealth()
}

// Run evaluates the checks every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate(ctx)
		}
	}
}

// Get returns the last status of component.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[component]
	return status, ok
}

// AggregateHealth folds the last statuses into one. Checks that never ran are skipped.
func (m *Monitor) AggregateHealth() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()
	return Aggregate(m.name, subs)
}

// Handler serves the aggregate status as JSON: 200 unless unhealthy, then 503.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth()
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
