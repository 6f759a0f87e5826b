package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.err != nil {
		return services.SystemHealthReport{}, s.err
	}
	return s.report, nil
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)

	handlers := NewHealthHandlers(
		WithHealthClock(func() time.Time { return now }),
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.2.3",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   started,
		}),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
	if payload["version"] != "1.2.3" || payload["commitSha"] != "abc123" {
		t.Fatalf("unexpected build info: %#v", payload)
	}
	if payload["uptime"] != "1m30s" {
		t.Fatalf("unexpected uptime: %v", payload["uptime"])
	}
}

func TestReadyzHealthyReport(t *testing.T) {
	generatedAt := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.2.3",
			GeneratedAt: generatedAt,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				"pubsub":    {Status: domain.HealthStatusOK},
			},
		},
	}

	handlers := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp healthReportPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %#v", resp.Checks)
	}
	if resp.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("expected latency in milliseconds, got %#v", resp.Checks["firestore"])
	}
	if len(resp.Details) != 0 {
		t.Fatalf("expected no details for healthy report, got %#v", resp.Details)
	}
}

func TestReadyzDegradedCheckTurnsUnavailable(t *testing.T) {
	system := &stubSystemService{
		report: services.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusDegraded, Error: "publish timeout"},
			},
		},
	}

	handlers := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp healthReportPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", resp.Status)
	}
	if len(resp.Details) != 1 || resp.Details[0] != "pubsub: publish timeout" {
		t.Fatalf("unexpected details: %#v", resp.Details)
	}
}

func TestReadyzReportErrorReturnsUnavailable(t *testing.T) {
	system := &stubSystemService{err: errors.New("health collection failed")}
	handlers := NewHealthHandlers(WithHealthSystemService(system))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != domain.HealthStatusError {
		t.Fatalf("expected error status, got %v", payload["status"])
	}
}

func TestReadyzWithoutSystemServiceIsOK(t *testing.T) {
	handlers := NewHealthHandlers()

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
