package ai

import (
	"fmt"
	"time"
)

// Operation identifies one of the AI review operations.
type Operation string

const (
	OpContractAnalysis  Operation = "contract_analysis"
	OpLegalResearch     Operation = "legal_research"
	OpRiskAssessment    Operation = "risk_assessment"
	OpComplianceOpinion Operation = "compliance_opinion"
)

// AnalysisError reports a failed AI operation. The cause preserves the
// upstream error, including context.DeadlineExceeded on timeout.
type AnalysisError struct {
	Op    Operation
	Cause error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("ai %s failed: %v", e.Op, e.Cause)
}

func (e *AnalysisError) Unwrap() error { return e.Cause }

// Config holds provider settings for the AI review backends.
type Config struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Model             string        `yaml:"model" mapstructure:"model"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// ContractAnalysis is the structured outcome of a contract review.
// Degraded is set when the model response could not be parsed and the
// raw text was carried over as the summary.
type ContractAnalysis struct {
	Jurisdiction     string         `json:"jurisdiction"`
	Summary          string         `json:"summary"`
	Ambiguities      []string       `json:"ambiguities"`
	Risks            []ContractRisk `json:"risks"`
	Suggestions      []string       `json:"suggestions"`
	OverallRiskLevel string         `json:"overall_risk_level"`
	Degraded         bool           `json:"degraded,omitempty"`
}

// ContractRisk is a single risk flagged during contract analysis.
type ContractRisk struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ResearchResult holds the findings of a legal research query.
type ResearchResult struct {
	Query           string         `json:"query"`
	Jurisdiction    string         `json:"jurisdiction"`
	Summary         string         `json:"summary"`
	Statutes        []string       `json:"statutes"`
	Cases           []CaseCitation `json:"cases"`
	Principles      []string       `json:"principles"`
	Recommendations []string       `json:"recommendations"`
	Sources         []string       `json:"sources"`
	Degraded        bool           `json:"degraded,omitempty"`
}

// CaseCitation references a court decision surfaced by research.
type CaseCitation struct {
	Name      string `json:"name"`
	Citation  string `json:"citation"`
	Relevance string `json:"relevance"`
}

// RiskAssessment scores a document across risk categories on a 0-10
// scale, 10 being highest risk.
type RiskAssessment struct {
	OverallRiskScore int            `json:"overall_risk_score"`
	RiskCategories   []RiskCategory `json:"risk_categories"`
	CriticalIssues   []string       `json:"critical_issues"`
	Recommendations  []string       `json:"recommendations"`
	Summary          string         `json:"summary"`
	Degraded         bool           `json:"degraded,omitempty"`
}

// RiskCategory is one scored dimension of a risk assessment.
type RiskCategory struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
	Details  string `json:"details"`
}

// ComplianceOpinion is the AI-side compliance verdict before any
// rule-based findings are merged in. A degraded opinion never reports
// compliant.
type ComplianceOpinion struct {
	Jurisdiction     string              `json:"jurisdiction"`
	OverallCompliant bool                `json:"overall_compliant"`
	Passes           []CompliancePass    `json:"passes"`
	Fails            []ComplianceFailure `json:"fails"`
	ConcernAreas     []string            `json:"concern_areas"`
	Recommendations  []string            `json:"recommendations"`
	Summary          string              `json:"summary"`
	Degraded         bool                `json:"degraded,omitempty"`
}

// CompliancePass records a requirement the document satisfies.
type CompliancePass struct {
	Requirement string `json:"requirement"`
	Details     string `json:"details"`
}

// ComplianceFailure records a requirement the document does not satisfy.
type ComplianceFailure struct {
	Requirement    string `json:"requirement"`
	Severity       string `json:"severity"`
	Details        string `json:"details"`
	Recommendation string `json:"recommendation"`
}
