package ai

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// extractJSON strips markdown code fences the model sometimes wraps
// around its JSON output.
func extractJSON(response string) string {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[7:]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[3:]
	}
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

func defaultSeverity(s string) string {
	if s == "" {
		return "MEDIUM"
	}
	return s
}

// Parsing never fails outright: when the model response is not the
// requested JSON shape, the raw text is carried over as the summary and
// the result is marked degraded.

func parseContractAnalysis(raw, jurisdiction string, log *zap.Logger) *ContractAnalysis {
	var payload struct {
		Summary     string   `json:"summary"`
		Ambiguities []string `json:"ambiguities"`
		Risks       []struct {
			Description string `json:"description"`
			Severity    string `json:"severity"`
		} `json:"risks"`
		Suggestions      []string `json:"suggestions"`
		OverallRiskLevel string   `json:"overallRiskLevel"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		log.Warn("Failed to parse contract analysis response", zap.Error(err))
		return &ContractAnalysis{
			Jurisdiction:     jurisdiction,
			Summary:          raw,
			Ambiguities:      []string{},
			Risks:            []ContractRisk{},
			Suggestions:      []string{},
			OverallRiskLevel: "MEDIUM",
			Degraded:         true,
		}
	}

	risks := make([]ContractRisk, 0, len(payload.Risks))
	for _, r := range payload.Risks {
		risks = append(risks, ContractRisk{
			Description: r.Description,
			Severity:    defaultSeverity(r.Severity),
		})
	}
	return &ContractAnalysis{
		Jurisdiction:     jurisdiction,
		Summary:          payload.Summary,
		Ambiguities:      append([]string{}, payload.Ambiguities...),
		Risks:            risks,
		Suggestions:      append([]string{}, payload.Suggestions...),
		OverallRiskLevel: defaultSeverity(payload.OverallRiskLevel),
	}
}

func parseResearchResult(raw, query, jurisdiction string, log *zap.Logger) *ResearchResult {
	var payload struct {
		Summary  string   `json:"summary"`
		Statutes []string `json:"statutes"`
		Cases    []struct {
			Name      string `json:"name"`
			Citation  string `json:"citation"`
			Relevance string `json:"relevance"`
		} `json:"cases"`
		Principles      []string `json:"principles"`
		Recommendations []string `json:"recommendations"`
		Sources         []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		log.Warn("Failed to parse legal research response", zap.Error(err))
		return &ResearchResult{
			Query:           query,
			Jurisdiction:    jurisdiction,
			Summary:         raw,
			Statutes:        []string{},
			Cases:           []CaseCitation{},
			Principles:      []string{},
			Recommendations: []string{},
			Sources:         []string{},
			Degraded:        true,
		}
	}

	cases := make([]CaseCitation, 0, len(payload.Cases))
	for _, c := range payload.Cases {
		cases = append(cases, CaseCitation{Name: c.Name, Citation: c.Citation, Relevance: c.Relevance})
	}
	return &ResearchResult{
		Query:           query,
		Jurisdiction:    jurisdiction,
		Summary:         payload.Summary,
		Statutes:        append([]string{}, payload.Statutes...),
		Cases:           cases,
		Principles:      append([]string{}, payload.Principles...),
		Recommendations: append([]string{}, payload.Recommendations...),
		Sources:         append([]string{}, payload.Sources...),
	}
}

func parseRiskAssessment(raw string, log *zap.Logger) *RiskAssessment {
	var payload struct {
		OverallRiskScore *int `json:"overallRiskScore"`
		RiskCategories   []struct {
			Category string `json:"category"`
			Score    int    `json:"score"`
			Details  string `json:"details"`
		} `json:"riskCategories"`
		CriticalIssues  []string `json:"criticalIssues"`
		Recommendations []string `json:"recommendations"`
		Summary         string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		log.Warn("Failed to parse risk assessment response", zap.Error(err))
		return &RiskAssessment{
			OverallRiskScore: 5,
			RiskCategories:   []RiskCategory{},
			CriticalIssues:   []string{},
			Recommendations:  []string{},
			Summary:          raw,
			Degraded:         true,
		}
	}

	// A missing score means the model skipped the field, not zero risk.
	score := 5
	if payload.OverallRiskScore != nil {
		score = *payload.OverallRiskScore
	}
	categories := make([]RiskCategory, 0, len(payload.RiskCategories))
	for _, c := range payload.RiskCategories {
		categories = append(categories, RiskCategory{Category: c.Category, Score: c.Score, Details: c.Details})
	}
	return &RiskAssessment{
		OverallRiskScore: score,
		RiskCategories:   categories,
		CriticalIssues:   append([]string{}, payload.CriticalIssues...),
		Recommendations:  append([]string{}, payload.Recommendations...),
		Summary:          payload.Summary,
	}
}

func parseComplianceOpinion(raw, jurisdiction string, log *zap.Logger) *ComplianceOpinion {
	var payload struct {
		OverallCompliant bool `json:"overallCompliant"`
		Passes           []struct {
			Requirement string `json:"requirement"`
			Details     string `json:"details"`
		} `json:"passes"`
		Fails []struct {
			Requirement    string `json:"requirement"`
			Severity       string `json:"severity"`
			Details        string `json:"details"`
			Recommendation string `json:"recommendation"`
		} `json:"fails"`
		ConcernAreas    []string `json:"concernAreas"`
		Recommendations []string `json:"recommendations"`
		Summary         string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		log.Warn("Failed to parse compliance opinion response", zap.Error(err))
		return &ComplianceOpinion{
			Jurisdiction:     jurisdiction,
			OverallCompliant: false,
			Passes:           []CompliancePass{},
			Fails:            []ComplianceFailure{},
			ConcernAreas:     []string{},
			Recommendations:  []string{},
			Summary:          raw,
			Degraded:         true,
		}
	}

	passes := make([]CompliancePass, 0, len(payload.Passes))
	for _, p := range payload.Passes {
		passes = append(passes, CompliancePass{Requirement: p.Requirement, Details: p.Details})
	}
	fails := make([]ComplianceFailure, 0, len(payload.Fails))
	for _, f := range payload.Fails {
		fails = append(fails, ComplianceFailure{
			Requirement:    f.Requirement,
			Severity:       defaultSeverity(f.Severity),
			Details:        f.Details,
			Recommendation: f.Recommendation,
		})
	}
	return &ComplianceOpinion{
		Jurisdiction:     jurisdiction,
		OverallCompliant: payload.OverallCompliant,
		Passes:           passes,
		Fails:            fails,
		ConcernAreas:     append([]string{}, payload.ConcernAreas...),
		Recommendations:  append([]string{}, payload.Recommendations...),
		Summary:          payload.Summary,
	}
}
