package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/detectors"
	"github.com/miradorstack/mirador-heal/internal/effector"
	"github.com/miradorstack/mirador-heal/internal/engine"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/services"
)

type alwaysDetector struct{ attention bool }

func (d alwaysDetector) Name() string { return "always" }

func (d alwaysDetector) Analyze(context.Context, models.ErrorEvent) (models.DetectionResult, error) {
	return models.DetectionResult{
		RequiresAttention: d.attention,
		Confidence:        1,
		DetectionMethods:  []string{"always"},
	}, nil
}

func newTestServer(attention bool) *HTTPServer {
	detection := engine.NewDetectionEngine([]detectors.Detector{alwaysDetector{attention: attention}}, nil, nil)

	cfg := engine.DefaultOrchestratorConfig()
	cfg.Cooldown = 0
	registry := actions.NewRegistry(actions.NewClearCache(effector.NoopEffector{}, nil))
	assessor := engine.NewRiskAssessor(nil, engine.WithClock(func() time.Time {
		return time.Date(2025, time.June, 1, 3, 0, 0, 0, time.UTC)
	}))
	orchestrator := engine.NewOrchestrator(cfg, registry, assessor, nil, nil)
	service := services.NewHealService(nil, detection, orchestrator)

	return NewHTTPServer(config.ServerConfig{HTTPAddress: ":0"}, service, nil)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func cachePayload() map[string]any {
	return map[string]any{
		"event": map[string]any{
			"severity":  "high",
			"category":  "performance",
			"message":   "stale cache entries detected",
			"component": "catalog",
		},
		"system_state": map[string]float64{"cpu_load": 0.3},
	}
}

func TestEventsEndpointRunsDetectionAndRecovery(t *testing.T) {
	server := newTestServer(true)

	rec := postJSON(t, server.Handler(), "/api/v1/events", cachePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Fingerprint string            `json:"fingerprint"`
		Detection   detectionPayload  `json:"detection"`
		Recovery    *executionPayload `json:"recovery"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Fingerprint == "" || !resp.Detection.RequiresAttention {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Recovery == nil || resp.Recovery.Status != string(models.RecoveryCompleted) {
		t.Fatalf("expected completed recovery, got %+v", resp.Recovery)
	}
}

func TestEventsEndpointBenignVerdictSkipsRecovery(t *testing.T) {
	server := newTestServer(false)

	rec := postJSON(t, server.Handler(), "/api/v1/events", cachePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["recovery"]; ok {
		t.Fatalf("benign verdict must not trigger recovery: %s", rec.Body.String())
	}
}

func TestEventsEndpointRejectsUnknownSeverity(t *testing.T) {
	server := newTestServer(true)

	payload := cachePayload()
	payload["event"].(map[string]any)["severity"] = "catastrophic"
	rec := postJSON(t, server.Handler(), "/api/v1/events", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown severity, got %d", rec.Code)
	}
}

func TestEventsEndpointRejectsMissingComponent(t *testing.T) {
	server := newTestServer(true)

	payload := cachePayload()
	delete(payload["event"].(map[string]any), "component")
	rec := postJSON(t, server.Handler(), "/api/v1/events", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing component, got %d", rec.Code)
	}
}

func TestRecoverEndpointBypassesDetection(t *testing.T) {
	server := newTestServer(false)

	rec := postJSON(t, server.Handler(), "/api/v1/recover", cachePayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Recovery executionPayload `json:"recovery"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Recovery.Status != string(models.RecoveryCompleted) {
		t.Fatalf("expected completed recovery, got %+v", resp.Recovery)
	}
}

func TestRecoveriesEndpointListsHistory(t *testing.T) {
	server := newTestServer(false)

	postJSON(t, server.Handler(), "/api/v1/recover", cachePayload())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recoveries?limit=10", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Recoveries []executionPayload `json:"recoveries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Recoveries) != 1 {
		t.Fatalf("expected one recovery, got %d", len(resp.Recoveries))
	}
}

func TestRecoveriesEndpointRejectsBadLimit(t *testing.T) {
	server := newTestServer(false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recoveries?limit=zero", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEventsEndpointRequiresPost(t *testing.T) {
	server := newTestServer(false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
