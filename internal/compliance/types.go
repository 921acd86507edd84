package compliance

import (
	"time"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/match"
	"github.com/raaihank/compliance-sentinel/internal/privacy"
)

// ComplianceVerdict is the merged outcome of the AI compliance opinion
// and the rule-based check for one document.
//
// OverallCompliant is false whenever Fails is non-empty. Rule-based
// failures are appended after AI-derived ones and always force
// non-compliance: the AI opinion can never override a deterministic
// rule violation. AIReviewed marks whether an AI opinion contributed;
// when the AI path failed the verdict is rule-only and says so in the
// summary.
type ComplianceVerdict struct {
	Jurisdiction     string                 `json:"jurisdiction"`
	OverallCompliant bool                   `json:"overall_compliant"`
	Passes           []ai.CompliancePass    `json:"passes"`
	Fails            []ai.ComplianceFailure `json:"fails"`
	ConcernAreas     []string               `json:"concern_areas"`
	Recommendations  []string               `json:"recommendations"`
	Summary          string                 `json:"summary"`
	AIReviewed       bool                   `json:"ai_reviewed"`
	AIDegraded       bool                   `json:"ai_degraded,omitempty"`
	RuleViolations   []match.Violation      `json:"rule_violations"`
	CheckedAt        time.Time              `json:"checked_at"`
}

// CheckResult is the rule-only outcome for one document check.
type CheckResult struct {
	Jurisdiction string            `json:"jurisdiction"`
	Compliant    bool              `json:"compliant"`
	Violations   []match.Violation `json:"violations"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// ScanReport describes one sensitive-data scan: what fired, where, and
// the masked copy of the input.
type ScanReport struct {
	OriginalLength  int                      `json:"original_length"`
	ProtectedLength int                      `json:"protected_length"`
	Count           int                      `json:"sensitive_data_count"`
	Matches         []privacy.SensitiveMatch `json:"matches"`
	MaskedText      string                   `json:"masked_text"`
	ScannedAt       time.Time                `json:"scanned_at"`
}
