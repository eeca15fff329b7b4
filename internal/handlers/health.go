package handlers

import (
	"net/http"
	"time"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves /healthz (liveness) and /readyz (dependency probes).
type HealthHandlers struct {
	probes repositories.HealthRepository
	build  BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthProbes sets the dependency probes used by /readyz.
func WithHealthProbes(probes repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.probes = probes
	}
}

// WithHealthBuildInfo sets the version metadata echoed by both endpoints.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the handlers. Without probes /readyz always reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type dependencyPayload struct {
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
}

type healthPayload struct {
	Status      domain.HealthStatus          `json:"status"`
	Version     string                       `json:"version,omitempty"`
	Environment string                       `json:"environment,omitempty"`
	Uptime      string                       `json:"uptime"`
	Timestamp   time.Time                    `json:"timestamp"`
	Checks      map[string]dependencyPayload `json:"checks,omitempty"`
	Details     []string                     `json:"details,omitempty"`
}

func (h *HealthHandlers) basePayload() healthPayload {
	now := h.clock().UTC()
	return healthPayload{
		Status:      domain.HealthOK,
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now,
	}
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, h.basePayload())
}

// Readyz runs every dependency probe and answers 503 unless all are ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	payload := h.basePayload()
	w.Header().Set("Cache-Control", "no-store")
	if h.probes == nil {
		httpx.WriteJSON(w, http.StatusOK, payload)
		return
	}

	report, err := h.probes.Collect(r.Context())
	if err != nil {
		payload.Status = domain.HealthUnavailable
		payload.Details = []string{err.Error()}
		httpx.WriteJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	payload.Status = report.Status
	payload.Details = report.Failures()
	payload.Checks = make(map[string]dependencyPayload, len(report.Dependencies))
	for name, dep := range report.Dependencies {
		payload.Checks[name] = dependencyPayload{
			Status:    dep.Status,
			Detail:    dep.Detail,
			LatencyMS: dep.Latency.Milliseconds(),
		}
	}

	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}
