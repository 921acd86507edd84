package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/match"
)

func emailViolation() match.Violation {
	return match.Violation{
		RuleName:     "GDPR_EMAIL",
		Jurisdiction: "EU",
		Description:  "Unmasked email address",
		Severity:     "HIGH",
		MatchedText:  "a@b.com",
		Offset:       9,
		DetectedAt:   time.Now(),
	}
}

func compliantOpinion() *ai.ComplianceOpinion {
	return &ai.ComplianceOpinion{
		Jurisdiction:     "EU",
		OverallCompliant: true,
		Passes:           []ai.CompliancePass{{Requirement: "GDPR Art. 13 notice", Details: "present"}},
		Fails:            []ai.ComplianceFailure{},
		ConcernAreas:     []string{"data retention"},
		Recommendations:  []string{"review annually"},
		Summary:          "Document is compliant",
	}
}

func TestCompose_RuleViolationOverridesCompliantOpinion(t *testing.T) {
	verdict := Compose("EU", compliantOpinion(), []match.Violation{emailViolation()})

	assert.False(t, verdict.OverallCompliant, "a rule violation must force non-compliance even when the AI judged compliant")
	assert.True(t, verdict.AIReviewed)

	require.Len(t, verdict.Fails, 1)
	fail := verdict.Fails[0]
	assert.Equal(t, "GDPR_EMAIL", fail.Requirement)
	assert.Equal(t, "HIGH", fail.Severity)
	assert.Equal(t, "Unmasked email address - Matched: a@b.com", fail.Details)
	assert.Equal(t, ruleViolationRecommendation, fail.Recommendation)

	require.Len(t, verdict.RuleViolations, 1)
	assert.Equal(t, "GDPR_EMAIL", verdict.RuleViolations[0].RuleName)
}

func TestCompose_RuleFailsComeAfterAIFails(t *testing.T) {
	opinion := compliantOpinion()
	opinion.OverallCompliant = false
	opinion.Fails = []ai.ComplianceFailure{
		{Requirement: "Consent clause", Severity: "MEDIUM", Details: "missing"},
	}

	second := emailViolation()
	second.RuleName = "GDPR_CONSENT_CLAUSE"
	verdict := Compose("EU", opinion, []match.Violation{emailViolation(), second})

	require.Len(t, verdict.Fails, 3)
	assert.Equal(t, "Consent clause", verdict.Fails[0].Requirement, "AI failures come first")
	assert.Equal(t, "GDPR_EMAIL", verdict.Fails[1].Requirement)
	assert.Equal(t, "GDPR_CONSENT_CLAUSE", verdict.Fails[2].Requirement)
}

func TestCompose_PreservesOpinionFields(t *testing.T) {
	opinion := compliantOpinion()
	verdict := Compose("EU", opinion, nil)

	assert.True(t, verdict.OverallCompliant)
	assert.Equal(t, opinion.Passes, verdict.Passes)
	assert.Equal(t, opinion.ConcernAreas, verdict.ConcernAreas)
	assert.Equal(t, opinion.Recommendations, verdict.Recommendations)
	assert.Equal(t, "Document is compliant", verdict.Summary)
	assert.Equal(t, "EU", verdict.Jurisdiction)
	assert.False(t, verdict.CheckedAt.IsZero())
	assert.Equal(t, time.UTC, verdict.CheckedAt.Location())
}

func TestCompose_NonCompliantOpinionStaysNonCompliant(t *testing.T) {
	opinion := compliantOpinion()
	opinion.OverallCompliant = false
	opinion.Fails = []ai.ComplianceFailure{{Requirement: "Consent clause", Severity: "HIGH"}}

	verdict := Compose("EU", opinion, nil)
	assert.False(t, verdict.OverallCompliant)
	require.Len(t, verdict.Fails, 1)
	assert.Empty(t, verdict.RuleViolations)
}

func TestCompose_NilOpinionBuildsRuleOnlyVerdict(t *testing.T) {
	t.Run("with violations", func(t *testing.T) {
		verdict := Compose("EU", nil, []match.Violation{emailViolation()})

		assert.False(t, verdict.AIReviewed)
		assert.False(t, verdict.OverallCompliant)
		assert.Equal(t, "AI review unavailable; verdict is based on rule checks alone.", verdict.Summary)
		require.Len(t, verdict.Fails, 1)
		assert.Equal(t, "GDPR_EMAIL", verdict.Fails[0].Requirement)
	})

	t.Run("without violations", func(t *testing.T) {
		verdict := Compose("EU", nil, nil)

		assert.False(t, verdict.AIReviewed)
		assert.True(t, verdict.OverallCompliant, "no failing checks from either path means compliant")
		assert.Equal(t, "AI review unavailable; verdict is based on rule checks alone.", verdict.Summary)
		assert.Empty(t, verdict.Fails)
	})
}

func TestCompose_DegradedOpinionIsMarked(t *testing.T) {
	opinion := &ai.ComplianceOpinion{
		Jurisdiction: "EU",
		Summary:      "raw model text",
		Degraded:     true,
	}

	verdict := Compose("EU", opinion, nil)
	assert.True(t, verdict.AIReviewed)
	assert.True(t, verdict.AIDegraded)
	assert.False(t, verdict.OverallCompliant, "a degraded opinion never reports compliant")
	assert.Equal(t, "raw model text", verdict.Summary)
}

func TestCompose_EmptyFieldsAreNeverNil(t *testing.T) {
	verdict := Compose("EU", nil, nil)

	assert.NotNil(t, verdict.Passes)
	assert.NotNil(t, verdict.Fails)
	assert.NotNil(t, verdict.ConcernAreas)
	assert.NotNil(t, verdict.Recommendations)
	assert.NotNil(t, verdict.RuleViolations)
}
