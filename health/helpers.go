package health

import (
	"fmt"
	"sort"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate folds subs into one status named component: unhealthy if any sub is,
// otherwise degraded if any sub is, otherwise healthy. Subs are sorted by component.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no checks registered")
	}

	sorted := make([]Status, len(subs))
	copy(sorted, subs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Component < sorted[j].Component })

	var unhealthy, degraded int
	for _, sub := range sorted {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component, fmt.Sprintf("%d of %d checks unhealthy", unhealthy, len(sorted)))
	case degraded > 0:
		agg = NewDegraded(component, fmt.Sprintf("%d of %d checks degraded", degraded, len(sorted)))
	default:
		agg = NewHealthy(component, fmt.Sprintf("all %d checks healthy", len(sorted)))
	}
	agg.SubStatuses = sorted
	return agg
}
