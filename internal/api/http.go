package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/services"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// HTTPServer carries the JSON ingestion API: error event submission,
// direct recovery triggers, and execution history queries.
type HTTPServer struct {
	cfg     config.ServerConfig
	logger  *slog.Logger
	service *services.HealService
	server  *http.Server
}

// NewHTTPServer wires the handler routes onto the configured address.
func NewHTTPServer(cfg config.ServerConfig, service *services.HealService, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{cfg: cfg, logger: logger, service: service}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/recover", s.handleRecover)
	mux.HandleFunc("/api/v1/recoveries", s.handleRecoveries)
	mux.HandleFunc("/api/v1/recoveries/active", s.handleActiveRecoveries)

	s.server = &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves requests until Shutdown.
func (s *HTTPServer) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler (useful for tests).
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

type eventPayload struct {
	Timestamp  string         `json:"timestamp"`
	Severity   string         `json:"severity"`
	Category   string         `json:"category"`
	Message    string         `json:"message"`
	Component  string         `json:"component"`
	StackTrace string         `json:"stack_trace"`
	Context    map[string]any `json:"context"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	RequestID  string         `json:"request_id"`
}

type ingestRequest struct {
	Event       eventPayload       `json:"event"`
	SystemState map[string]float64 `json:"system_state"`
}

type detectionPayload struct {
	RequiresAttention  bool           `json:"requires_attention"`
	Confidence         float64        `json:"confidence"`
	DetectionMethods   []string       `json:"detection_methods"`
	RecommendedActions []string       `json:"recommended_actions"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

type resultPayload struct {
	Success          bool           `json:"success"`
	ExecutionTimeMs  float64        `json:"execution_time_ms"`
	Output           string         `json:"output,omitempty"`
	Error            string         `json:"error,omitempty"`
	RollbackExecuted bool           `json:"rollback_executed"`
	RollbackSuccess  bool           `json:"rollback_success"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type executionPayload struct {
	ID           string         `json:"id"`
	ActionName   string         `json:"action_name"`
	Fingerprint  string         `json:"fingerprint"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Result       *resultPayload `json:"result,omitempty"`
	RetryAttempt int            `json:"retry_attempt"`
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !enforcePost(w, r) {
		return
	}
	req, event, ok := s.decodeIngest(w, r)
	if !ok {
		return
	}

	detection, exec := s.service.HandleError(r.Context(), event, req.SystemState)
	response := map[string]any{
		"fingerprint": event.Fingerprint(),
		"detection":   toDetectionPayload(detection),
	}
	if exec != nil {
		response["recovery"] = toExecutionPayload(*exec)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleRecover(w http.ResponseWriter, r *http.Request) {
	if !enforcePost(w, r) {
		return
	}
	req, event, ok := s.decodeIngest(w, r)
	if !ok {
		return
	}

	exec := s.service.ExecuteRecovery(r.Context(), event, req.SystemState)
	writeJSON(w, http.StatusOK, map[string]any{
		"recovery": toExecutionPayload(exec),
	})
}

func (s *HTTPServer) handleRecoveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var records []models.RecoveryExecution
	if fingerprint := r.URL.Query().Get("fingerprint"); fingerprint != "" {
		records = s.service.History(fingerprint)
	} else {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
				return
			}
			limit = n
		}
		records = s.service.RecentRecoveries(limit)
	}

	payload := make([]executionPayload, len(records))
	for i, exec := range records {
		payload[i] = toExecutionPayload(exec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"recoveries": payload})
}

func (s *HTTPServer) handleActiveRecoveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records := s.service.ActiveRecoveries()
	payload := make([]executionPayload, len(records))
	for i, exec := range records {
		payload[i] = toExecutionPayload(exec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"recoveries": payload})
}

func (s *HTTPServer) decodeIngest(w http.ResponseWriter, r *http.Request) (ingestRequest, models.ErrorEvent, bool) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return req, models.ErrorEvent{}, false
	}
	event, err := toErrorEvent(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, models.ErrorEvent{}, false
	}
	return req, event, true
}

func toErrorEvent(p eventPayload) (models.ErrorEvent, error) {
	severity, err := models.ParseSeverity(p.Severity)
	if err != nil {
		return models.ErrorEvent{}, err
	}
	category, err := models.ParseCategory(p.Category)
	if err != nil {
		return models.ErrorEvent{}, err
	}
	if p.Message == "" {
		return models.ErrorEvent{}, fmt.Errorf("event message is required")
	}
	if p.Component == "" {
		return models.ErrorEvent{}, fmt.Errorf("event component is required")
	}

	timestamp := time.Now()
	if p.Timestamp != "" {
		timestamp, err = utils.ParseRFC3339(p.Timestamp)
		if err != nil {
			return models.ErrorEvent{}, fmt.Errorf("invalid timestamp: %w", err)
		}
	}

	return models.ErrorEvent{
		Timestamp:  timestamp,
		Severity:   severity,
		Category:   category,
		Message:    p.Message,
		Component:  p.Component,
		StackTrace: p.StackTrace,
		Context:    p.Context,
		UserID:     p.UserID,
		SessionID:  p.SessionID,
		RequestID:  p.RequestID,
	}, nil
}

func toDetectionPayload(result models.DetectionResult) detectionPayload {
	return detectionPayload{
		RequiresAttention:  result.RequiresAttention,
		Confidence:         result.Confidence,
		DetectionMethods:   result.DetectionMethods,
		RecommendedActions: result.RecommendedActions,
		Metadata:           result.Metadata,
	}
}

func toExecutionPayload(exec models.RecoveryExecution) executionPayload {
	payload := executionPayload{
		ID:           exec.ID,
		ActionName:   exec.ActionName,
		Fingerprint:  exec.Fingerprint,
		Status:       string(exec.Status),
		StartedAt:    exec.StartedAt,
		RetryAttempt: exec.RetryAttempt,
	}
	if !exec.CompletedAt.IsZero() {
		completed := exec.CompletedAt
		payload.CompletedAt = &completed
	}
	if exec.Result != nil {
		payload.Result = &resultPayload{
			Success:          exec.Result.Success,
			ExecutionTimeMs:  float64(exec.Result.ExecutionTime) / float64(time.Millisecond),
			Output:           exec.Result.Output,
			Error:            exec.Result.Error,
			RollbackExecuted: exec.Result.RollbackExecuted,
			RollbackSuccess:  exec.Result.RollbackSuccess,
			Metadata:         exec.Result.Metadata,
		}
	}
	return payload
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)))
	})
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
