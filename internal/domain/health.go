package domain

import (
	"sort"
	"time"
)

// HealthStatus is the readiness verdict for the API or one of its backing stores.
type HealthStatus string

const (
	HealthOK HealthStatus = "ok"
	// HealthDegraded means a probe answered with an error; the process keeps serving.
	HealthDegraded HealthStatus = "degraded"
	// HealthUnavailable means a probe timed out or was cancelled.
	HealthUnavailable HealthStatus = "unavailable"
)

// severity orders statuses so the worst one wins when aggregating.
func (s HealthStatus) severity() int {
	switch s {
	case HealthOK:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// DependencyHealth is the outcome of one probe (firestore, postgres, redis, ...).
type DependencyHealth struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport collects probe outcomes keyed by dependency name.
type SystemHealthReport struct {
	Status       HealthStatus
	Dependencies map[string]DependencyHealth
	GeneratedAt  time.Time
}

// NewSystemHealthReport derives the overall status from the worst dependency.
func NewSystemHealthReport(deps map[string]DependencyHealth, at time.Time) SystemHealthReport {
	status := HealthOK
	for _, dep := range deps {
		if dep.Status.severity() > status.severity() {
			status = dep.Status
		}
	}
	return SystemHealthReport{Status: status, Dependencies: deps, GeneratedAt: at}
}

// Ready reports whether every dependency answered ok.
func (r SystemHealthReport) Ready() bool {
	return r.Status == HealthOK
}

// Failures lists "name: detail" for each unhealthy dependency, sorted by name.
func (r SystemHealthReport) Failures() []string {
	var out []string
	for name, dep := range r.Dependencies {
		if dep.Status != HealthOK {
			out = append(out, name+": "+dep.Detail)
		}
	}
	sort.Strings(out)
	return out
}
