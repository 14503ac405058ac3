package health

import (
	"regexp"
	"time"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s,]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret)\s*[:=]\s*[^,\s}]+`)
)

// State values of Status.Status.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component, or of the whole process when SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the counters a check chose to attach to its status.
type Metrics struct {
	Processed    int64     `json:"processed,omitempty"`
	Errors       int64     `json:"errors,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy carrying m.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// FromError reports err as unhealthy with addresses and credentials stripped from the
// message, since health output is served without authentication. A nil err is healthy.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, sanitize(err.Error()))
}

func sanitize(msg string) string {
	msg = credentialRegex.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	return unixPathRegex.ReplaceAllString(msg, "[PATH]")
}
