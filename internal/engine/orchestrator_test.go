package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/models"
)

// testAction is a fully scriptable Action for orchestrator tests.
type testAction struct {
	name    string
	risk    models.RiskLevel
	timeout time.Duration

	mu         sync.Mutex
	execute    func(ctx context.Context) (models.RecoveryResult, error)
	rollbackOK bool
	rollbacks  int
	outcomes   []bool
}

func newTestAction(name string, risk models.RiskLevel) *testAction {
	return &testAction{
		name:    name,
		risk:    risk,
		timeout: time.Second,
		execute: func(context.Context) (models.RecoveryResult, error) {
			return models.RecoveryResult{Success: true, Output: "done"}, nil
		},
		rollbackOK: true,
	}
}

func (a *testAction) Name() string                     { return a.name }
func (a *testAction) RiskLevel() models.RiskLevel      { return a.risk }
func (a *testAction) SuccessRate() float64             { return 0.9 }
func (a *testAction) MaxExecutionTime() time.Duration  { return a.timeout }
func (a *testAction) Enabled() bool                    { return true }
func (a *testAction) CanHandle(models.ErrorEvent) bool { return true }

func (a *testAction) Execute(ctx context.Context, _ models.RecoveryContext) (models.RecoveryResult, error) {
	return a.execute(ctx)
}

func (a *testAction) Rollback(context.Context, models.RecoveryContext) (bool, error) {
	a.mu.Lock()
	a.rollbacks++
	a.mu.Unlock()
	return a.rollbackOK, nil
}

func (a *testAction) RecordOutcome(success bool) {
	a.mu.Lock()
	a.outcomes = append(a.outcomes, success)
	a.mu.Unlock()
}

// memProvider is an in-memory cache.Provider for cooldown tests.
type memProvider struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemProvider() *memProvider { return &memProvider{data: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (p *memProvider) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[key]; ok {
		return false, nil
	}
	p.data[key] = value
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

func (p *memProvider) Close() error { return nil }

func newTestOrchestrator(cfg OrchestratorConfig, provider cache.Provider, acts ...actions.Action) *Orchestrator {
	registry := actions.NewRegistry(acts...)
	assessor := NewRiskAssessor(nil, WithClock(offHoursClock))
	return NewOrchestrator(cfg, registry, assessor, provider, nil)
}

func testEvent(component string) models.ErrorEvent {
	return models.ErrorEvent{
		Severity:  models.SeverityHigh,
		Category:  models.CategoryAPI,
		Message:   "upstream timeout",
		Component: component,
	}
}

func quietConfig() OrchestratorConfig {
	cfg := DefaultOrchestratorConfig()
	cfg.Cooldown = 0
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestExecuteRecoverySuccessPath(t *testing.T) {
	action := newTestAction("fix-it", models.RiskLow)
	o := newTestOrchestrator(quietConfig(), nil, action)

	var notified []models.RecoveryExecution
	o.AddCallback(func(exec models.RecoveryExecution) {
		notified = append(notified, exec)
	})

	event := testEvent("checkout")
	exec := o.ExecuteRecovery(context.Background(), event, nil)

	if exec.Status != models.RecoveryCompleted {
		t.Fatalf("expected completed, got %s (%+v)", exec.Status, exec.Result)
	}
	if exec.ActionName != "fix-it" || exec.ID == "" {
		t.Fatalf("malformed execution: %+v", exec)
	}
	if exec.Result == nil || !exec.Result.Success {
		t.Fatalf("expected successful result, got %+v", exec.Result)
	}
	if len(notified) != 1 || notified[0].ID != exec.ID {
		t.Fatalf("expected one callback with the execution, got %v", notified)
	}
	history := o.History(event.Fingerprint())
	if len(history) != 1 || history[0].Status != models.RecoveryCompleted {
		t.Fatalf("expected one completed history entry, got %v", history)
	}
	if len(action.outcomes) != 1 || !action.outcomes[0] {
		t.Fatalf("expected success recorded on the action, got %v", action.outcomes)
	}
}

func TestExecuteRecoveryRetryAttemptCountsHistory(t *testing.T) {
	action := newTestAction("fix-it", models.RiskLow)
	o := newTestOrchestrator(quietConfig(), nil, action)

	event := testEvent("checkout")
	first := o.ExecuteRecovery(context.Background(), event, nil)
	second := o.ExecuteRecovery(context.Background(), event, nil)

	if first.RetryAttempt != 0 || second.RetryAttempt != 1 {
		t.Fatalf("expected retry attempts 0 then 1, got %d and %d", first.RetryAttempt, second.RetryAttempt)
	}
}

func TestExecuteRecoveryConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	blocking := newTestAction("slow", models.RiskLow)
	blocking.execute = func(ctx context.Context) (models.RecoveryResult, error) {
		select {
		case <-release:
			return models.RecoveryResult{Success: true}, nil
		case <-ctx.Done():
			return models.RecoveryResult{}, ctx.Err()
		}
	}
	blocking.timeout = 5 * time.Second

	cfg := quietConfig()
	cfg.MaxConcurrent = 3
	o := newTestOrchestrator(cfg, nil, blocking)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
		}(i)
	}
	waitFor(t, 2*time.Second, func() bool { return len(o.ActiveRecoveries()) == 3 })

	refused := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
	if refused.Status != models.RecoveryFailed {
		t.Fatalf("expected synthetic failure, got %s", refused.Status)
	}
	if refused.Result == nil || refused.Result.Error != "max concurrent recoveries reached" {
		t.Fatalf("unexpected refusal reason: %+v", refused.Result)
	}

	close(release)
	wg.Wait()
}

func TestExecuteRecoveryNoApplicableActions(t *testing.T) {
	o := newTestOrchestrator(quietConfig(), nil) // empty registry

	exec := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
	if exec.Status != models.RecoveryFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if exec.Result.Error != "no applicable recovery actions" {
		t.Fatalf("unexpected reason %q", exec.Result.Error)
	}
	if len(o.History(testEvent("svc").Fingerprint())) != 0 {
		t.Fatalf("synthetic refusals must not enter history")
	}
}

func TestExecuteRecoveryFailureRollsBack(t *testing.T) {
	action := newTestAction("flaky", models.RiskLow)
	action.execute = func(context.Context) (models.RecoveryResult, error) {
		return models.RecoveryResult{Success: false, Error: "restart did not converge"}, nil
	}

	o := newTestOrchestrator(quietConfig(), nil, action)
	exec := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)

	if exec.Status != models.RecoveryRolledBack {
		t.Fatalf("expected rolled_back, got %s", exec.Status)
	}
	if !exec.Result.RollbackExecuted || !exec.Result.RollbackSuccess {
		t.Fatalf("expected rollback flags set, got %+v", exec.Result)
	}
	if action.rollbacks != 1 {
		t.Fatalf("expected one rollback call, got %d", action.rollbacks)
	}
	if len(action.outcomes) != 1 || action.outcomes[0] {
		t.Fatalf("expected failure recorded, got %v", action.outcomes)
	}
}

func TestExecuteRecoveryFailedWhenRollbackFails(t *testing.T) {
	action := newTestAction("flaky", models.RiskLow)
	action.execute = func(context.Context) (models.RecoveryResult, error) {
		return models.RecoveryResult{Success: false, Error: "boom"}, nil
	}
	action.rollbackOK = false

	o := newTestOrchestrator(quietConfig(), nil, action)
	exec := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)

	if exec.Status != models.RecoveryFailed {
		t.Fatalf("failed rollback must leave the execution failed, got %s", exec.Status)
	}
	if !exec.Result.RollbackExecuted || exec.Result.RollbackSuccess {
		t.Fatalf("expected rollback executed but unsuccessful, got %+v", exec.Result)
	}
}

func TestExecuteRecoveryTimeout(t *testing.T) {
	action := newTestAction("hung", models.RiskLow)
	action.timeout = 30 * time.Millisecond
	action.execute = func(ctx context.Context) (models.RecoveryResult, error) {
		<-ctx.Done()
		return models.RecoveryResult{}, ctx.Err()
	}

	cfg := quietConfig()
	cfg.AutoRollback = false
	o := newTestOrchestrator(cfg, nil, action)

	exec := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
	if exec.Status != models.RecoveryFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if !strings.Contains(exec.Result.Error, "timed out") {
		t.Fatalf("expected timeout reason, got %q", exec.Result.Error)
	}
}

func TestExecuteRecoveryHighRiskPolicy(t *testing.T) {
	risky := newTestAction("risky", models.RiskHigh)

	cfg := quietConfig()
	o := newTestOrchestrator(cfg, nil, risky)
	exec := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
	if exec.Result.Error != "no safe recovery action available" {
		t.Fatalf("expected high-risk refusal, got %+v", exec.Result)
	}

	cfg.AllowHighRisk = true
	o = newTestOrchestrator(cfg, nil, risky)
	exec = o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
	if exec.Status != models.RecoveryCompleted {
		t.Fatalf("expected high-risk action to run when allowed, got %s (%+v)", exec.Status, exec.Result)
	}
}

func TestExecuteRecoverySkipsApprovalRequired(t *testing.T) {
	critical := newTestAction("dangerous", models.RiskCritical)

	cfg := quietConfig()
	cfg.AllowHighRisk = true
	o := newTestOrchestrator(cfg, nil, critical)

	exec := o.ExecuteRecovery(context.Background(), testEvent("svc"), nil)
	if exec.Result.Error != "no safe recovery action available" {
		t.Fatalf("approval-required action must be skipped, got %+v", exec.Result)
	}
}

func TestExecuteRecoveryCooldown(t *testing.T) {
	action := newTestAction("fix-it", models.RiskLow)
	cfg := DefaultOrchestratorConfig()
	cfg.Cooldown = time.Minute
	o := newTestOrchestrator(cfg, newMemProvider(), action)

	event := testEvent("svc")
	first := o.ExecuteRecovery(context.Background(), event, nil)
	if first.Status != models.RecoveryCompleted {
		t.Fatalf("first recovery should run, got %s", first.Status)
	}

	second := o.ExecuteRecovery(context.Background(), event, nil)
	if second.Result.Error != "recovery cooldown active" {
		t.Fatalf("expected cooldown refusal, got %+v", second.Result)
	}
}

func TestExecuteRecoveryBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	action := newTestAction("flaky", models.RiskLow)
	action.execute = func(context.Context) (models.RecoveryResult, error) {
		return models.RecoveryResult{Success: false, Error: "still broken"}, nil
	}

	cfg := quietConfig()
	cfg.AutoRollback = false
	cfg.BreakerMaxFailures = 2
	o := newTestOrchestrator(cfg, nil, action)

	event := testEvent("svc")
	for i := 0; i < 2; i++ {
		if exec := o.ExecuteRecovery(context.Background(), event, nil); exec.Status != models.RecoveryFailed {
			t.Fatalf("attempt %d: expected failed, got %s", i, exec.Status)
		}
	}

	exec := o.ExecuteRecovery(context.Background(), event, nil)
	if exec.Result.Error != "no safe recovery action available" {
		t.Fatalf("expected open breaker to exclude the action, got %+v", exec.Result)
	}
}

func TestShutdownCancelsActiveRecoveries(t *testing.T) {
	blocking := newTestAction("slow", models.RiskLow)
	blocking.timeout = 5 * time.Second
	blocking.execute = func(ctx context.Context) (models.RecoveryResult, error) {
		<-ctx.Done()
		return models.RecoveryResult{}, ctx.Err()
	}

	cfg := quietConfig()
	cfg.AutoRollback = false
	o := newTestOrchestrator(cfg, nil, blocking)

	event := testEvent("svc")
	results := make(chan models.RecoveryExecution, 1)
	go func() {
		results <- o.ExecuteRecovery(context.Background(), event, nil)
	}()
	waitFor(t, 2*time.Second, func() bool { return len(o.ActiveRecoveries()) == 1 })

	o.Shutdown()

	exec := <-results
	if exec.Status != models.RecoveryCancelled {
		t.Fatalf("expected cancelled, got %s", exec.Status)
	}
	if len(o.ActiveRecoveries()) != 0 {
		t.Fatalf("active set must be empty after shutdown")
	}
	history := o.History(event.Fingerprint())
	if len(history) != 1 || history[0].Status != models.RecoveryCancelled {
		t.Fatalf("expected cancelled history entry, got %v", history)
	}
}
