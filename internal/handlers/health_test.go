package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/axleworks/api/internal/domain"
)

type stubHealthRepository struct {
	collect func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collect == nil {
		return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
	}
	return s.collect(ctx)
}

func TestHealthzReportsLiveness(t *testing.T) {
	h := NewHealthHandlers(
		WithBuildInfo("1.4.0", "abc123", "staging"),
		WithHealthClock(func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var payload healthPayload
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("status = %q, want ok", payload.Status)
	}
	if payload.Version != "1.4.0" || payload.CommitSHA != "abc123" || payload.Environment != "staging" {
		t.Fatalf("build info not propagated: %+v", payload)
	}
}

func TestReadyzWithoutRepositoryFallsBackToLiveness(t *testing.T) {
	h := NewHealthHandlers()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzReportsChecks(t *testing.T) {
	repo := &stubHealthRepository{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 40 * time.Millisecond},
					"redis":     {Status: domain.HealthStatusDegraded, Error: "slow ping", Latency: 900 * time.Millisecond},
				},
				Version: "1.4.0",
			}, nil
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (degraded still serves)", rec.Code, http.StatusOK)
	}
	var payload healthPayload
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %q, want degraded", payload.Status)
	}
	if len(payload.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(payload.Checks))
	}
	if payload.Checks["redis"].Error != "slow ping" {
		t.Fatalf("redis check = %+v", payload.Checks["redis"])
	}
	if payload.Checks["redis"].LatencyMS != 900 {
		t.Fatalf("redis latency = %d, want 900", payload.Checks["redis"].LatencyMS)
	}
}

func TestReadyzUnhealthyReturns503(t *testing.T) {
	repo := &stubHealthRepository{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{Status: domain.HealthStatusError}, nil
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyzCollectFailureReturns503(t *testing.T) {
	repo := &stubHealthRepository{
		collect: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, errors.New("probe timeout")
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var payload healthPayload
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != domain.HealthStatusError {
		t.Fatalf("status = %q, want error", payload.Status)
	}
}
