package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Advisor applies operator-authored rules that attach recovery action
// recommendations to detection results, complementing what the actions'
// own CanHandle logic selects.
type Advisor struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID      string    `yaml:"id"`
	Match   RuleMatch `yaml:"match"`
	Actions []string  `yaml:"actions"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields
// always match.
type RuleMatch struct {
	Category        string   `yaml:"category"`
	Severity        string   `yaml:"severity"`
	MessageContains []string `yaml:"message_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewAdvisor loads rules from the provided path. If path is empty or the
// file does not exist, returns a nil advisor, which recommends nothing.
func NewAdvisor(path string, logger *slog.Logger) (*Advisor, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{rules: cfg.Rules, logger: logger}, nil
}

// Recommend returns the deduplicated action names of every rule matching the
// event. Severity in a rule is a floor: "high" matches high and critical.
func (a *Advisor) Recommend(event models.ErrorEvent) []string {
	if a == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range a.rules {
		if rule.Match.Category != "" && !strings.EqualFold(rule.Match.Category, string(event.Category)) {
			continue
		}
		if rule.Match.Severity != "" && !severityAtLeast(rule.Match.Severity, event.Severity) {
			continue
		}
		if len(rule.Match.MessageContains) > 0 && !messageContains(rule.Match.MessageContains, event.Message) {
			continue
		}
		matched = appendUnique(matched, rule.Actions...)
	}
	return matched
}

func severityAtLeast(floor string, severity models.Severity) bool {
	parsed, err := models.ParseSeverity(floor)
	if err != nil {
		return false
	}
	return severity.Rank() >= parsed.Rank()
}

func messageContains(keywords []string, message string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, existing := range dst {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
