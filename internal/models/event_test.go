package models

import (
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := ErrorEvent{
		Timestamp: time.Now(),
		Severity:  SeverityHigh,
		Category:  CategoryDatabase,
		Component: "orders-db",
		Message:   "connection pool exhausted",
		Context:   map[string]any{"pool": 32},
	}
	b := ErrorEvent{
		Timestamp: time.Now().Add(6 * time.Hour),
		Severity:  SeverityLow,
		Category:  CategoryDatabase,
		Component: "orders-db",
		Message:   "connection pool exhausted",
		RequestID: "req-99",
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected identical fingerprints, got %s and %s", a.Fingerprint(), b.Fingerprint())
	}
}

func TestFingerprintDistinguishesIdentity(t *testing.T) {
	base := ErrorEvent{Category: CategoryAPI, Component: "checkout", Message: "timeout"}

	otherComponent := base
	otherComponent.Component = "payments"
	if base.Fingerprint() == otherComponent.Fingerprint() {
		t.Fatalf("expected different fingerprints for different components")
	}

	otherMessage := base
	otherMessage.Message = "timeout talking to payments"
	if base.Fingerprint() == otherMessage.Fingerprint() {
		t.Fatalf("expected different fingerprints for different messages")
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Fatalf("expected %s to outrank %s", ordered[i], ordered[i-1])
		}
	}
}

func TestParseSeverity(t *testing.T) {
	if _, err := ParseSeverity("HIGH"); err != nil {
		t.Fatalf("expected HIGH to parse: %v", err)
	}
	if _, err := ParseSeverity("urgent"); err == nil {
		t.Fatalf("expected unknown severity to fail")
	}
}

func TestRecoveryStatusTerminal(t *testing.T) {
	for _, s := range []RecoveryStatus{RecoveryCompleted, RecoveryFailed, RecoveryRolledBack, RecoveryCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []RecoveryStatus{RecoveryPending, RecoveryRunning} {
		if s.Terminal() {
			t.Fatalf("expected %s to be transient", s)
		}
	}
}
