package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Severity captures how urgent an error occurrence is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity; unknown values rank lowest.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// ParseSeverity maps a string onto a Severity constant.
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := severityRanks[s]; !ok {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return s, nil
}

// Category groups errors by the subsystem they originate from.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryDatabase       Category = "database"
	CategoryAPI            Category = "api"
	CategoryPerformance    Category = "performance"
	CategoryIntegration    Category = "integration"
	CategoryResource       Category = "resource"
	CategoryConfiguration  Category = "configuration"
	CategoryNetwork        Category = "network"
)

var knownCategories = map[Category]struct{}{
	CategoryAuthentication: {},
	CategoryDatabase:       {},
	CategoryAPI:            {},
	CategoryPerformance:    {},
	CategoryIntegration:    {},
	CategoryResource:       {},
	CategoryConfiguration:  {},
	CategoryNetwork:        {},
}

// ParseCategory maps a string onto a Category constant.
func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := knownCategories[c]; !ok {
		return "", fmt.Errorf("unknown category %q", value)
	}
	return c, nil
}

// ErrorEvent is one observed failure as reported by an external collector.
// Events are constructed once and never mutated afterwards.
type ErrorEvent struct {
	Timestamp  time.Time
	Severity   Severity
	Category   Category
	Message    string
	Component  string
	StackTrace string
	Context    map[string]any
	UserID     string
	SessionID  string
	RequestID  string
}

// Fingerprint derives the deduplication identity of the event. It hashes only
// category, component, and a digest of the message, so repeated occurrences of
// the same error collapse to one key regardless of timestamp or context.
func (e ErrorEvent) Fingerprint() string {
	msgSum := sha256.Sum256([]byte(e.Message))

	h := sha256.New()
	h.Write([]byte(e.Category))
	h.Write([]byte{0})
	h.Write([]byte(e.Component))
	h.Write([]byte{0})
	h.Write(msgSum[:])

	return hex.EncodeToString(h.Sum(nil))[:16]
}
