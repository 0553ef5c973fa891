package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
)

const (
	reasonMaxConcurrent  = "max concurrent recoveries reached"
	reasonNoApplicable   = "no applicable recovery actions"
	reasonNoSafeAction   = "no safe recovery action available"
	reasonCooldownActive = "recovery cooldown active"

	cooldownKeyPrefix = "heal:cooldown:"
	recentLimit       = 256
)

// errActionFailed marks a business failure (result.Success == false) so the
// circuit breaker counts it alongside transport errors.
var errActionFailed = errors.New("recovery action reported failure")

// RecoveryCallback observes every real (non-synthetic) execution reaching a
// terminal state. Fire-and-log: panics are recovered.
type RecoveryCallback func(models.RecoveryExecution)

// OrchestratorConfig tunes the recovery orchestrator.
type OrchestratorConfig struct {
	MaxConcurrent      int
	AllowHighRisk      bool
	AutoRollback       bool
	Cooldown           time.Duration
	BreakerMaxFailures uint32
	BreakerCooldown    time.Duration
}

// DefaultOrchestratorConfig returns the stock policy: three concurrent
// recoveries, no high-risk actions, rollback on failure.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrent:      3,
		AllowHighRisk:      false,
		AutoRollback:       true,
		Cooldown:           5 * time.Minute,
		BreakerMaxFailures: 5,
		BreakerCooldown:    2 * time.Minute,
	}
}

// Orchestrator drives recovery end to end: admission control, action
// selection under the risk policy, bounded execution, rollback, history.
type Orchestrator struct {
	cfg       OrchestratorConfig
	registry  *actions.Registry
	assessor  *RiskAssessor
	cooldowns cache.Provider
	logger    *slog.Logger
	newID     func() string

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	inFlight  int
	active    map[string]*models.RecoveryExecution
	history   map[string][]models.RecoveryExecution
	recent    []models.RecoveryExecution
	breakers  map[string]*gobreaker.CircuitBreaker
	callbacks []RecoveryCallback
}

// NewOrchestrator wires the orchestrator. A nil cooldown provider disables
// cooldown tracking entirely.
func NewOrchestrator(cfg OrchestratorConfig, registry *actions.Registry, assessor *RiskAssessor, cooldowns cache.Provider, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 2 * time.Minute
	}
	if cooldowns == nil {
		cooldowns = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		assessor:  assessor,
		cooldowns: cooldowns,
		logger:    logger,
		newID:     uuid.NewString,
		baseCtx:   ctx,
		cancel:    cancel,
		active:    make(map[string]*models.RecoveryExecution),
		history:   make(map[string][]models.RecoveryExecution),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// AddCallback registers an observer for terminal executions.
func (o *Orchestrator) AddCallback(cb RecoveryCallback) {
	if cb == nil {
		return
	}
	o.mu.Lock()
	o.callbacks = append(o.callbacks, cb)
	o.mu.Unlock()
}

// ExecuteRecovery runs one recovery attempt for the event and always returns
// a terminal execution. Refusals (admission, cooldown, no action, no safe
// action) come back as synthetic FAILED executions with a descriptive
// reason, never as errors.
func (o *Orchestrator) ExecuteRecovery(ctx context.Context, event models.ErrorEvent, systemState map[string]float64) models.RecoveryExecution {
	fingerprint := event.Fingerprint()

	o.mu.Lock()
	if o.inFlight >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		metrics.RecordRecoverySkipped("max_concurrent")
		return o.syntheticFailure(fingerprint, "", reasonMaxConcurrent)
	}
	o.inFlight++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	if o.onCooldown(ctx, fingerprint) {
		metrics.RecordRecoverySkipped("cooldown")
		return o.syntheticFailure(fingerprint, "", reasonCooldownActive)
	}

	applicable := o.registry.ApplicableActions(event)
	if len(applicable) == 0 {
		metrics.RecordRecoverySkipped("no_applicable_action")
		return o.syntheticFailure(fingerprint, "", reasonNoApplicable)
	}

	rc := models.RecoveryContext{
		Event:       event,
		SystemState: systemState,
		History:     o.History(fingerprint),
	}

	action, assessment, ok := o.selectAction(applicable, rc)
	if !ok {
		metrics.RecordRecoverySkipped("no_safe_action")
		return o.syntheticFailure(fingerprint, "", reasonNoSafeAction)
	}
	rc.RequiresApproval = assessment.RequiresApproval
	rc.Timeout = action.MaxExecutionTime()

	return o.run(ctx, action, rc)
}

// selectAction walks the ranked candidates and returns the first one the
// risk policy admits. Approval-required assessments are skipped (no human
// is in this loop), intrinsically high-risk actions are skipped unless
// allowed, and actions with an open circuit breaker are skipped.
func (o *Orchestrator) selectAction(candidates []actions.Action, rc models.RecoveryContext) (actions.Action, RiskAssessment, bool) {
	for _, candidate := range candidates {
		assessment := o.assessor.Assess(candidate, rc)
		if assessment.RequiresApproval {
			o.logger.Info("skipping action pending approval",
				"action", candidate.Name(),
				"risk_level", assessment.Level,
				"risk_score", assessment.Score,
				"factors", assessment.Factors)
			continue
		}
		if !o.cfg.AllowHighRisk && candidate.RiskLevel().Rank() >= models.RiskHigh.Rank() {
			o.logger.Info("skipping high-risk action by policy", "action", candidate.Name())
			continue
		}
		if o.breaker(candidate.Name()).State() == gobreaker.StateOpen {
			o.logger.Warn("skipping action with open circuit breaker", "action", candidate.Name())
			continue
		}
		return candidate, assessment, true
	}
	return nil, RiskAssessment{}, false
}

// run owns the execution record from PENDING to a terminal state.
func (o *Orchestrator) run(ctx context.Context, action actions.Action, rc models.RecoveryContext) models.RecoveryExecution {
	fingerprint := rc.Event.Fingerprint()
	exec := &models.RecoveryExecution{
		ID:           o.newID(),
		ActionName:   action.Name(),
		Fingerprint:  fingerprint,
		Status:       models.RecoveryPending,
		StartedAt:    time.Now(),
		RetryAttempt: len(rc.History),
	}

	o.mu.Lock()
	exec.Status = models.RecoveryRunning
	o.active[exec.ID] = exec
	o.mu.Unlock()
	metrics.RecoveryStarted()

	o.logger.Info("recovery started",
		"execution_id", exec.ID,
		"action", action.Name(),
		"fingerprint", fingerprint,
		"retry_attempt", exec.RetryAttempt)

	result := o.execute(ctx, action, rc)

	status := models.RecoveryCompleted
	if !result.Success {
		status = models.RecoveryFailed
		if o.cfg.AutoRollback {
			// Rollback runs on a fresh context so a timed-out or
			// cancelled execution can still be compensated.
			result.RollbackExecuted = true
			result.RollbackSuccess = o.rollback(action, rc, exec.ID)
			if result.RollbackSuccess {
				status = models.RecoveryRolledBack
			}
		}
	}
	action.RecordOutcome(result.Success)
	o.armCooldown(fingerprint)

	return o.finalize(exec, status, &result)
}

// execute races the action against its timeout through the per-action
// circuit breaker. A timeout cancels the in-flight call and is reported as
// an ordinary failure.
func (o *Orchestrator) execute(ctx context.Context, action actions.Action, rc models.RecoveryContext) models.RecoveryResult {
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = action.MaxExecutionTime()
	}
	execCtx, cancel := context.WithTimeout(o.baseCtx, timeout)
	defer cancel()

	started := time.Now()
	type outcome struct {
		result models.RecoveryResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		raw, err := o.breaker(action.Name()).Execute(func() (interface{}, error) {
			result, execErr := action.Execute(execCtx, rc)
			if execErr != nil {
				return result, execErr
			}
			if !result.Success {
				return result, errActionFailed
			}
			return result, nil
		})
		result, _ := raw.(models.RecoveryResult)
		done <- outcome{result: result, err: err}
	}()

	var result models.RecoveryResult
	select {
	case out := <-done:
		result = out.result
		switch {
		case out.err == nil:
		case errors.Is(out.err, errActionFailed):
			// Business failure, already described in the result.
			result.Success = false
		case errors.Is(out.err, gobreaker.ErrOpenState):
			result = models.RecoveryResult{Error: fmt.Sprintf("circuit breaker open for %s", action.Name())}
		default:
			result.Success = false
			if result.Error == "" {
				result.Error = out.err.Error()
			}
		}
	case <-execCtx.Done():
		cancel()
		result = models.RecoveryResult{
			Error: fmt.Sprintf("execution timed out after %s", timeout),
		}
	}
	result.ExecutionTime = time.Since(started)
	return result
}

func (o *Orchestrator) rollback(action actions.Action, rc models.RecoveryContext, executionID string) bool {
	rollbackCtx, cancel := context.WithTimeout(context.Background(), action.MaxExecutionTime())
	defer cancel()

	ok, err := action.Rollback(rollbackCtx, rc)
	if err != nil {
		o.logger.Error("rollback failed",
			"execution_id", executionID,
			"action", action.Name(),
			"error", err)
		return false
	}
	return ok
}

// finalize moves an execution to its terminal state under the lock. If the
// record already went terminal (Shutdown cancelled it first), the earlier
// state wins and history is left untouched.
func (o *Orchestrator) finalize(exec *models.RecoveryExecution, status models.RecoveryStatus, result *models.RecoveryResult) models.RecoveryExecution {
	o.mu.Lock()
	if exec.Status.Terminal() {
		snapshot := *exec
		o.mu.Unlock()
		return snapshot
	}
	exec.Status = status
	exec.CompletedAt = time.Now()
	exec.Result = result
	delete(o.active, exec.ID)
	o.history[exec.Fingerprint] = append(o.history[exec.Fingerprint], *exec)
	o.recent = append(o.recent, *exec)
	if len(o.recent) > recentLimit {
		o.recent = o.recent[len(o.recent)-recentLimit:]
	}
	snapshot := *exec
	callbacks := make([]RecoveryCallback, len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.Unlock()

	metrics.RecoveryFinished()
	metrics.ObserveRecovery(snapshot.CompletedAt.Sub(snapshot.StartedAt), string(status))

	o.logger.Info("recovery finished",
		"execution_id", snapshot.ID,
		"action", snapshot.ActionName,
		"fingerprint", snapshot.Fingerprint,
		"status", snapshot.Status,
		"duration", snapshot.CompletedAt.Sub(snapshot.StartedAt))

	o.notify(callbacks, snapshot)
	return snapshot
}

func (o *Orchestrator) notify(callbacks []RecoveryCallback, exec models.RecoveryExecution) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("recovery callback panicked",
						"execution_id", exec.ID,
						"panic", r)
				}
			}()
			cb(exec)
		}()
	}
}

// syntheticFailure fabricates a terminal FAILED execution for refusals. It
// is returned to the caller but kept out of the fingerprint history so a
// string of refusals cannot escalate future risk scores.
func (o *Orchestrator) syntheticFailure(fingerprint, actionName, reason string) models.RecoveryExecution {
	now := time.Now()
	o.logger.Warn("recovery refused", "fingerprint", fingerprint, "reason", reason)
	return models.RecoveryExecution{
		ID:          o.newID(),
		ActionName:  actionName,
		Fingerprint: fingerprint,
		Status:      models.RecoveryFailed,
		StartedAt:   now,
		CompletedAt: now,
		Result: &models.RecoveryResult{
			Success: false,
			Error:   reason,
		},
	}
}

func (o *Orchestrator) onCooldown(ctx context.Context, fingerprint string) bool {
	if o.cfg.Cooldown <= 0 {
		return false
	}
	_, err := o.cooldowns.Get(ctx, cooldownKeyPrefix+fingerprint)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// Fail open: a broken cooldown store must not block recovery.
		o.logger.Warn("cooldown lookup failed", "fingerprint", fingerprint, "error", err)
	}
	return false
}

func (o *Orchestrator) armCooldown(fingerprint string) {
	if o.cfg.Cooldown <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := o.cooldowns.SetNX(ctx, cooldownKeyPrefix+fingerprint, []byte("1"), o.cfg.Cooldown); err != nil {
		o.logger.Warn("cooldown arm failed", "fingerprint", fingerprint, "error", err)
	}
}

func (o *Orchestrator) breaker(name string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[name]; ok {
		return cb
	}
	maxFailures := o.cfg.BreakerMaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: o.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	o.breakers[name] = cb
	return cb
}

// History returns the terminal executions recorded for a fingerprint, in
// completion order. In-flight executions are never visible here.
func (o *Orchestrator) History(fingerprint string) []models.RecoveryExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	records := o.history[fingerprint]
	out := make([]models.RecoveryExecution, len(records))
	copy(out, records)
	return out
}

// ActiveRecoveries snapshots the executions currently running.
func (o *Orchestrator) ActiveRecoveries() []models.RecoveryExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.RecoveryExecution, 0, len(o.active))
	for _, exec := range o.active {
		out = append(out, *exec)
	}
	return out
}

// RecentRecoveries returns up to limit of the latest terminal executions,
// newest last. limit <= 0 returns everything retained.
func (o *Orchestrator) RecentRecoveries(limit int) []models.RecoveryExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	records := o.recent
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]models.RecoveryExecution, len(records))
	copy(out, records)
	return out
}

// Shutdown cancels every in-flight execution and marks it CANCELLED. The
// records are marked terminal before the contexts are cancelled so a woken
// worker's finalize finds them already settled and discards its own result.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	cancelled := make([]models.RecoveryExecution, 0, len(o.active))
	now := time.Now()
	for id, exec := range o.active {
		exec.Status = models.RecoveryCancelled
		exec.CompletedAt = now
		o.history[exec.Fingerprint] = append(o.history[exec.Fingerprint], *exec)
		o.recent = append(o.recent, *exec)
		cancelled = append(cancelled, *exec)
		delete(o.active, id)
	}
	callbacks := make([]RecoveryCallback, len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.Unlock()

	o.cancel()

	for _, exec := range cancelled {
		metrics.RecoveryFinished()
		metrics.ObserveRecovery(exec.CompletedAt.Sub(exec.StartedAt), string(models.RecoveryCancelled))
		o.logger.Warn("recovery cancelled by shutdown", "execution_id", exec.ID, "action", exec.ActionName)
		o.notify(callbacks, exec)
	}
}
