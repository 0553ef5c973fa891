package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// WithinBusinessHours reports whether t falls inside the 09:00-17:00 local
// window, when user-facing impact of a remediation is highest.
func WithinBusinessHours(t time.Time) bool {
	hour := t.Hour()
	return hour >= 9 && hour < 17
}
