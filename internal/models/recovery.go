package models

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel rates how dangerous a remediation is to run.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRanks = map[RiskLevel]int{
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal value of the risk level; unknown values rank 0.
func (r RiskLevel) Rank() int {
	return riskRanks[r]
}

// ParseRiskLevel maps a string onto a RiskLevel constant.
func ParseRiskLevel(value string) (RiskLevel, error) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := riskRanks[r]; !ok {
		return "", fmt.Errorf("unknown risk level %q", value)
	}
	return r, nil
}

// RecoveryStatus tracks the state machine of one remediation attempt.
// Pending and running are transient; the remaining states are terminal, with
// failed allowed to transition once more to rolled_back.
type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryRunning    RecoveryStatus = "running"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
	RecoveryRolledBack RecoveryStatus = "rolled_back"
	RecoveryCancelled  RecoveryStatus = "cancelled"
)

// Terminal reports whether the status ends the execution lifecycle.
func (s RecoveryStatus) Terminal() bool {
	switch s {
	case RecoveryCompleted, RecoveryFailed, RecoveryRolledBack, RecoveryCancelled:
		return true
	}
	return false
}

// RecoveryContext freezes the inputs for one recovery attempt.
type RecoveryContext struct {
	Event            ErrorEvent
	SystemState      map[string]float64
	History          []RecoveryExecution
	RequiresApproval bool
	ApprovedBy       string
	Timeout          time.Duration
}

// RecoveryResult is the terminal outcome of an execute or rollback call.
type RecoveryResult struct {
	Success          bool
	ExecutionTime    time.Duration
	Output           string
	Error            string
	RollbackExecuted bool
	RollbackSuccess  bool
	Metadata         map[string]any
}

// RecoveryExecution records one remediation attempt end to end.
type RecoveryExecution struct {
	ID           string
	ActionName   string
	Fingerprint  string
	Status       RecoveryStatus
	StartedAt    time.Time
	CompletedAt  time.Time
	Result       *RecoveryResult
	RetryAttempt int
}
