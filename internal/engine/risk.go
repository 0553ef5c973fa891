package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// RiskAssessment is the contextual risk verdict for running one action now.
// Its level can exceed the action's intrinsic risk: history, severity, load
// and time of day all escalate the score.
type RiskAssessment struct {
	Level            models.RiskLevel
	Score            float64
	Factors          []string
	RequiresApproval bool
}

// RiskAssessor scores actions against the current recovery context.
type RiskAssessor struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRiskAssessor builds an assessor. The clock is injectable for tests via
// the variadic option.
func NewRiskAssessor(logger *slog.Logger, opts ...RiskAssessorOption) *RiskAssessor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &RiskAssessor{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RiskAssessorOption customises a RiskAssessor.
type RiskAssessorOption func(*RiskAssessor)

// WithClock overrides the assessor's time source.
func WithClock(now func() time.Time) RiskAssessorOption {
	return func(a *RiskAssessor) { a.now = now }
}

// Assess computes the contextual risk of running the action in this context.
func (a *RiskAssessor) Assess(action actions.Action, rc models.RecoveryContext) RiskAssessment {
	score := float64(action.RiskLevel().Rank())
	factors := []string{fmt.Sprintf("intrinsic risk %s", action.RiskLevel())}

	if failed := priorFailures(rc.History); failed > 0 {
		score += 0.5 * float64(failed)
		factors = append(factors, fmt.Sprintf("%d prior failed attempts for this fingerprint", failed))
	}
	if rc.Event.Severity == models.SeverityCritical {
		score += 1.0
		factors = append(factors, "critical severity event")
	}
	if load := peakLoad(rc.SystemState); load > 0.8 {
		score += 0.5
		factors = append(factors, fmt.Sprintf("system load %.2f above 0.8", load))
	}
	if utils.WithinBusinessHours(a.now()) {
		score += 0.3
		factors = append(factors, "within business hours")
	}

	level := levelForScore(score)
	assessment := RiskAssessment{
		Level:            level,
		Score:            score,
		Factors:          factors,
		RequiresApproval: level.Rank() >= models.RiskHigh.Rank(),
	}

	a.logger.Debug("risk assessed",
		"action", action.Name(),
		"fingerprint", rc.Event.Fingerprint(),
		"score", score,
		"level", level,
		"requires_approval", assessment.RequiresApproval)
	return assessment
}

// levelForScore maps an accumulated score onto a risk level. The MEDIUM band
// is half-open so a score landing exactly on 3.5 already counts as HIGH.
func levelForScore(score float64) models.RiskLevel {
	switch {
	case score <= 2.0:
		return models.RiskLow
	case score < 3.5:
		return models.RiskMedium
	case score <= 5.0:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func priorFailures(history []models.RecoveryExecution) int {
	failed := 0
	for _, exec := range history {
		if exec.Status == models.RecoveryFailed || exec.Status == models.RecoveryRolledBack {
			failed++
		}
	}
	return failed
}

// peakLoad picks the highest of the recognised load metrics in the snapshot.
func peakLoad(state map[string]float64) float64 {
	peak := 0.0
	for _, key := range []string{"load", "cpu_load", "memory_load"} {
		if v, ok := state[key]; ok && v > peak {
			peak = v
		}
	}
	return peak
}
