package effector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

const (
	restartPath     = "/api/v1/remediate/restart"
	healthPath      = "/api/v1/remediate/health"
	clearCachePath  = "/api/v1/remediate/clear-cache"
	warmCachePath   = "/api/v1/remediate/warm-cache"
	scalePath       = "/api/v1/remediate/scale"
	revertScalePath = "/api/v1/remediate/revert-scale"
)

// HTTPEffector drives a remediation API over JSON. Each verb maps onto one
// endpoint of the configured backend.
type HTTPEffector struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEffector constructs an effector targeting the given remediation API.
func NewHTTPEffector(baseURL string, timeout time.Duration) *HTTPEffector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEffector{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RestartService asks the backend to restart the component.
func (e *HTTPEffector) RestartService(ctx context.Context, component string) error {
	return e.post(ctx, restartPath, map[string]any{"component": component})
}

// CheckHealth probes the component; a non-OK reply means unhealthy.
func (e *HTTPEffector) CheckHealth(ctx context.Context, component string) error {
	return e.post(ctx, healthPath, map[string]any{"component": component})
}

// ClearCache flushes the component's cache tier.
func (e *HTTPEffector) ClearCache(ctx context.Context, component string) error {
	return e.post(ctx, clearCachePath, map[string]any{"component": component})
}

// WarmCache repopulates critical cache entries after a flush.
func (e *HTTPEffector) WarmCache(ctx context.Context, component string) error {
	return e.post(ctx, warmCachePath, map[string]any{"component": component})
}

// ScaleResources grows the component's allocation along the given dimension
// (cpu, memory, or both).
func (e *HTTPEffector) ScaleResources(ctx context.Context, component, dimension string) error {
	return e.post(ctx, scalePath, map[string]any{"component": component, "dimension": dimension})
}

// RevertScale restores the component's previous allocation.
func (e *HTTPEffector) RevertScale(ctx context.Context, component string) error {
	return e.post(ctx, revertScalePath, map[string]any{"component": component})
}

func (e *HTTPEffector) post(ctx context.Context, path string, payload map[string]any) error {
	if e == nil || e.baseURL == "" {
		return utils.NewAppError("effector", "remediation base URL not configured", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError("effector", "encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError("effector", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError("effector", fmt.Sprintf("POST %s", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return utils.NewAppError("effector", fmt.Sprintf("POST %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	return nil
}
