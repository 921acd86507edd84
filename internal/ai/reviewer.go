package ai

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/cache"
	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// Reviewer runs the four AI review operations: contract analysis, legal
// research, risk assessment, and compliance opinions. Each operation is
// bounded by the configured timeout; on expiry the caller gets an
// AnalysisError rather than a hang. Results are cached by content
// fingerprint when a cache is attached, except degraded fallbacks, so a
// transient formatting failure never sticks for a full TTL.
type Reviewer struct {
	backend Backend
	config  *Config
	cache   *cache.AIResultCache
	logger  *logger.Logger
}

func NewReviewer(backend Backend, config *Config, log *logger.Logger) *Reviewer {
	return &Reviewer{
		backend: backend,
		config:  config,
		logger:  log.WithComponent("ai"),
	}
}

// AttachCache enables fingerprint-keyed result caching.
func (r *Reviewer) AttachCache(c *cache.AIResultCache) {
	r.cache = c
}

// Close releases the underlying backend.
func (r *Reviewer) Close() error {
	return r.backend.Close()
}

// AnalyzeContract reviews a contract under the given jurisdiction,
// flagging ambiguities, risks, and suggested edits.
func (r *Reviewer) AnalyzeContract(ctx context.Context, docText, jurisdiction string) (*ContractAnalysis, error) {
	start := time.Now()
	fp := cache.Fingerprint(string(OpContractAnalysis), jurisdiction, docText)

	var cached ContractAnalysis
	if r.fromCache(ctx, OpContractAnalysis, fp, &cached) {
		return &cached, nil
	}

	raw, err := r.complete(ctx, OpContractAnalysis, systemPromptFor(jurisdiction), contractAnalysisPrompt(docText, jurisdiction))
	if err != nil {
		return nil, err
	}
	result := parseContractAnalysis(raw, jurisdiction, r.logger.Logger)
	r.store(ctx, fp, result, result.Degraded)

	r.logger.Info("Contract analysis completed",
		zap.String("jurisdiction", jurisdiction),
		zap.Int("risks", len(result.Risks)),
		zap.Int("ambiguities", len(result.Ambiguities)),
		zap.Int("suggestions", len(result.Suggestions)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// Research answers a legal research query for the given jurisdiction
// with statutes, case law, and recommendations.
func (r *Reviewer) Research(ctx context.Context, query, jurisdiction string) (*ResearchResult, error) {
	start := time.Now()
	fp := cache.Fingerprint(string(OpLegalResearch), jurisdiction, query)

	var cached ResearchResult
	if r.fromCache(ctx, OpLegalResearch, fp, &cached) {
		return &cached, nil
	}

	raw, err := r.complete(ctx, OpLegalResearch, systemPromptFor(jurisdiction), researchPrompt(query, jurisdiction))
	if err != nil {
		return nil, err
	}
	result := parseResearchResult(raw, query, jurisdiction, r.logger.Logger)
	r.store(ctx, fp, result, result.Degraded)

	r.logger.Info("Legal research completed",
		zap.String("jurisdiction", jurisdiction),
		zap.Int("statutes", len(result.Statutes)),
		zap.Int("cases", len(result.Cases)),
		zap.Int("sources", len(result.Sources)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// AssessRisk scores a document across risk categories on a 0-10 scale.
func (r *Reviewer) AssessRisk(ctx context.Context, docText string) (*RiskAssessment, error) {
	start := time.Now()
	fp := cache.Fingerprint(string(OpRiskAssessment), docText)

	var cached RiskAssessment
	if r.fromCache(ctx, OpRiskAssessment, fp, &cached) {
		return &cached, nil
	}

	raw, err := r.complete(ctx, OpRiskAssessment, riskAssessmentSystemPrompt, riskAssessmentPrompt(docText))
	if err != nil {
		return nil, err
	}
	result := parseRiskAssessment(raw, r.logger.Logger)
	r.store(ctx, fp, result, result.Degraded)

	r.logger.Info("Risk assessment completed",
		zap.Int("overall_score", result.OverallRiskScore),
		zap.Int("categories", len(result.RiskCategories)),
		zap.Int("critical_issues", len(result.CriticalIssues)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// ComplianceOpinion asks the model for a compliance verdict against the
// jurisdiction's regulatory context. Rule-based findings are merged in
// by the caller, not here.
func (r *Reviewer) ComplianceOpinion(ctx context.Context, docText, jurisdiction string) (*ComplianceOpinion, error) {
	start := time.Now()
	fp := cache.Fingerprint(string(OpComplianceOpinion), jurisdiction, docText)

	var cached ComplianceOpinion
	if r.fromCache(ctx, OpComplianceOpinion, fp, &cached) {
		return &cached, nil
	}

	raw, err := r.complete(ctx, OpComplianceOpinion, systemPromptFor(jurisdiction), complianceOpinionPrompt(docText, jurisdiction))
	if err != nil {
		return nil, err
	}
	result := parseComplianceOpinion(raw, jurisdiction, r.logger.Logger)
	r.store(ctx, fp, result, result.Degraded)

	r.logger.Info("Compliance opinion completed",
		zap.String("jurisdiction", jurisdiction),
		zap.Bool("compliant", result.OverallCompliant),
		zap.Int("passes", len(result.Passes)),
		zap.Int("fails", len(result.Fails)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// complete runs one completion with retries under the operation
// timeout. Every failure path returns an AnalysisError.
func (r *Reviewer) complete(ctx context.Context, op Operation, systemPrompt, userPrompt string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	attempts := r.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			r.logger.Warn("Retrying AI completion",
				zap.String("operation", string(op)),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-opCtx.Done():
				return "", &AnalysisError{Op: op, Cause: opCtx.Err()}
			}
			backoff *= 2
		}

		raw, err := r.backend.Complete(opCtx, systemPrompt, userPrompt)
		if err == nil && raw != "" {
			return raw, nil
		}
		if err == nil {
			err = errors.New("empty model response")
		}
		lastErr = err
		if opCtx.Err() != nil {
			break
		}
	}
	return "", &AnalysisError{Op: op, Cause: lastErr}
}

func (r *Reviewer) fromCache(ctx context.Context, op Operation, key string, out interface{}) bool {
	if r.cache == nil {
		return false
	}
	payload, ok := r.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		r.logger.Warn("Discarding undecodable cached AI result",
			zap.String("operation", string(op)),
			zap.String("fingerprint", key),
			zap.Error(err))
		return false
	}
	r.logger.Debug("AI result served from cache",
		zap.String("operation", string(op)),
		zap.String("fingerprint", key))
	return true
}

func (r *Reviewer) store(ctx context.Context, key string, result interface{}, degraded bool) {
	if r.cache == nil || degraded {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload); err != nil {
		r.logger.Warn("Failed to cache AI result", zap.String("fingerprint", key), zap.Error(err))
	}
}
