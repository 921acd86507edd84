package compliance

import (
	"time"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/match"
)

const ruleViolationRecommendation = "Review and remediate this rule violation"

// Compose merges rule-based violations into an AI compliance opinion.
// A nil opinion means the AI path failed or is disabled; the verdict is
// then built from rule findings alone and marked as not AI-reviewed.
// The opinion's passes, concern areas, and summary are carried over
// untouched.
func Compose(jurisdiction string, opinion *ai.ComplianceOpinion, violations []match.Violation) *ComplianceVerdict {
	verdict := &ComplianceVerdict{
		Jurisdiction:     jurisdiction,
		OverallCompliant: true,
		Passes:           []ai.CompliancePass{},
		Fails:            []ai.ComplianceFailure{},
		ConcernAreas:     []string{},
		Recommendations:  []string{},
		RuleViolations:   []match.Violation{},
		CheckedAt:        time.Now().UTC(),
	}

	if opinion != nil {
		verdict.AIReviewed = true
		verdict.AIDegraded = opinion.Degraded
		verdict.OverallCompliant = opinion.OverallCompliant
		verdict.Summary = opinion.Summary
		verdict.Passes = append(verdict.Passes, opinion.Passes...)
		verdict.Fails = append(verdict.Fails, opinion.Fails...)
		verdict.ConcernAreas = append(verdict.ConcernAreas, opinion.ConcernAreas...)
		verdict.Recommendations = append(verdict.Recommendations, opinion.Recommendations...)
	} else {
		verdict.Summary = "AI review unavailable; verdict is based on rule checks alone."
	}

	// Rule findings come last so reviewers see the AI reasoning first,
	// but they are decisive either way.
	for _, v := range violations {
		verdict.RuleViolations = append(verdict.RuleViolations, v)
		verdict.Fails = append(verdict.Fails, ai.ComplianceFailure{
			Requirement:    v.RuleName,
			Severity:       v.Severity,
			Details:        v.Description + " - Matched: " + v.MatchedText,
			Recommendation: ruleViolationRecommendation,
		})
	}

	if len(verdict.Fails) > 0 {
		verdict.OverallCompliant = false
	}
	return verdict
}
