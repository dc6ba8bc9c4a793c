package handlers

import (
	"net/http"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
)

// HealthHandlers serves the root liveness and readiness endpoints. Liveness
// never touches downstreams; readiness collects dependency probes when a
// health repository is configured.
type HealthHandlers struct {
	health      repositories.HealthRepository
	version     string
	commit      string
	environment string
	started     time.Time
	now         func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthRepository wires the dependency probe collection behind /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

// WithBuildInfo attaches build metadata to health payloads.
func WithBuildInfo(version, commit, environment string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
		h.commit = commit
		h.environment = environment
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHealthHandlers constructs the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.started = h.now()
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checked_at,omitempty"`
}

type healthPayload struct {
	Status      string                        `json:"status"`
	Uptime      string                        `json:"uptime"`
	Timestamp   string                        `json:"timestamp"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commit_sha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSONResponse(w, http.StatusOK, healthPayload{
		Status:      domain.HealthStatusOK,
		Uptime:      now.Sub(h.started).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
		Version:     h.version,
		CommitSHA:   h.commit,
		Environment: h.environment,
	})
}

// Readyz reports dependency readiness. Without a health repository it
// degrades to a liveness answer so the endpoint stays useful in tests.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.health.Collect(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthPayload{
			Status:    domain.HealthStatusError,
			Uptime:    h.now().Sub(h.started).String(),
			Timestamp: h.now().UTC().Format(time.RFC3339),
		})
		return
	}

	payload := healthPayload{
		Status:      report.Status,
		Uptime:      h.now().Sub(h.started).String(),
		Timestamp:   h.now().UTC().Format(time.RFC3339),
		Version:     firstNonEmpty(report.Version, h.version),
		CommitSHA:   firstNonEmpty(report.CommitSHA, h.commit),
		Environment: firstNonEmpty(report.Environment, h.environment),
	}
	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			entry := healthCheckPayload{
				Status:    check.Status,
				LatencyMS: check.Latency.Milliseconds(),
				Detail:    check.Detail,
				Error:     check.Error,
			}
			if !check.CheckedAt.IsZero() {
				entry.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
			}
			payload.Checks[name] = entry
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
