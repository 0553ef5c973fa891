package actions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Action is one named, risk-rated remediation unit. CanHandle filters events
// it knows how to fix, Execute applies the fix, and Rollback compensates a
// failed attempt as far as the remediation allows.
type Action interface {
	Name() string
	RiskLevel() models.RiskLevel
	SuccessRate() float64
	MaxExecutionTime() time.Duration
	Enabled() bool
	CanHandle(event models.ErrorEvent) bool
	Execute(ctx context.Context, rc models.RecoveryContext) (models.RecoveryResult, error)
	Rollback(ctx context.Context, rc models.RecoveryContext) (bool, error)
	RecordOutcome(success bool)
}

// RequiresApproval reports whether the action's intrinsic risk mandates a
// human sign-off before it may run.
func RequiresApproval(a Action) bool {
	return a.RiskLevel().Rank() >= models.RiskHigh.Rank()
}

// successRateAlpha weights the latest outcome in the running success rate.
const successRateAlpha = 0.1

// Metadata carries the static identity of an action plus its mutable
// historical success rate. Concrete actions embed it.
type Metadata struct {
	name             string
	risk             models.RiskLevel
	maxExecutionTime time.Duration
	enabled          bool

	mu          sync.Mutex
	successRate float64
}

func newMetadata(name string, risk models.RiskLevel, successRate float64, maxExecutionTime time.Duration) Metadata {
	return Metadata{
		name:             name,
		risk:             risk,
		successRate:      successRate,
		maxExecutionTime: maxExecutionTime,
		enabled:          true,
	}
}

// Name returns the stable action name.
func (m *Metadata) Name() string { return m.name }

// RiskLevel returns the intrinsic risk rating.
func (m *Metadata) RiskLevel() models.RiskLevel { return m.risk }

// MaxExecutionTime bounds one Execute call.
func (m *Metadata) MaxExecutionTime() time.Duration { return m.maxExecutionTime }

// Enabled reports whether the action may be selected.
func (m *Metadata) Enabled() bool { return m.enabled }

// SetEnabled toggles selection eligibility.
func (m *Metadata) SetEnabled(enabled bool) { m.enabled = enabled }

// SuccessRate returns the current historical success estimate.
func (m *Metadata) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successRate
}

// RecordOutcome folds a terminal execution outcome into the success rate as
// an exponential moving average.
func (m *Metadata) RecordOutcome(success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	m.mu.Lock()
	m.successRate = (1-successRateAlpha)*m.successRate + successRateAlpha*outcome
	m.mu.Unlock()
}

func categoryIn(category models.Category, set ...models.Category) bool {
	for _, c := range set {
		if category == c {
			return true
		}
	}
	return false
}

func messageMentions(message string, terms ...string) (string, bool) {
	lower := strings.ToLower(message)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}
