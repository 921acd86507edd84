package rules

import (
	"fmt"
	"strings"
	"time"
)

// Severity levels for compliance rules
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"

	// DefaultSeverity is applied when a rule record omits severity
	DefaultSeverity = SeverityMedium
)

// Rule is one jurisdiction-scoped regulatory check
type Rule struct {
	Jurisdiction string    `json:"jurisdiction" db:"jurisdiction"`
	Name         string    `json:"name" db:"rule_name"`
	Description  string    `json:"description" db:"description"`
	Pattern      string    `json:"pattern" db:"regex_pattern"`
	Severity     string    `json:"severity" db:"severity"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Key returns the unique (jurisdiction, name) identity of the rule
func (r Rule) Key() string {
	return r.Jurisdiction + "|" + r.Name
}

// RuleDocument is the external rule definition format. Field names follow the
// published document schema (camelCase), not this module's JSON convention.
type RuleDocument struct {
	Metadata DocumentMetadata `json:"metadata" yaml:"metadata"`
	Rules    []RuleRecord     `json:"rules" yaml:"rules"`
}

// DocumentMetadata describes a rule document's provenance
type DocumentMetadata struct {
	Version     string `json:"version" yaml:"version"`
	LastUpdated string `json:"lastUpdated" yaml:"lastUpdated"`
}

// RuleRecord is one entry of a rule document. Active is a pointer so an
// omitted flag can default to true instead of false.
type RuleRecord struct {
	Jurisdiction string `json:"jurisdiction" yaml:"jurisdiction"`
	RuleName     string `json:"ruleName" yaml:"ruleName"`
	Description  string `json:"description" yaml:"description"`
	RegexPattern string `json:"regexPattern" yaml:"regexPattern"`
	Severity     string `json:"severity" yaml:"severity"`
	Active       *bool  `json:"active" yaml:"active"`
}

// RuleStatistics summarizes the store content for the admin surface
type RuleStatistics struct {
	TotalRules     int            `json:"total_rules"`
	ActiveRules    int            `json:"active_rules"`
	InactiveRules  int            `json:"inactive_rules"`
	ByJurisdiction map[string]int `json:"by_jurisdiction"`
	BySeverity     map[string]int `json:"by_severity"`
}

// Invalidator receives cache invalidation notifications from the store and
// loader. Implemented by the compliance cache.
type Invalidator interface {
	Invalidate(jurisdiction string)
	InvalidateAll()
}

// ValidationError marks a malformed rule record. It is recorded and skipped,
// never fatal to the surrounding batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

// NormalizeSeverity uppercases a severity value and applies the default for
// empty input. Unknown values pass through uppercased so statistics can
// surface them rather than silently rewriting.
func NormalizeSeverity(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultSeverity
	}
	return s
}
