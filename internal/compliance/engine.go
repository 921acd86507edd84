package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/audit"
	"github.com/raaihank/compliance-sentinel/internal/cache"
	"github.com/raaihank/compliance-sentinel/internal/logger"
	"github.com/raaihank/compliance-sentinel/internal/match"
	"github.com/raaihank/compliance-sentinel/internal/metrics"
	"github.com/raaihank/compliance-sentinel/internal/privacy"
	"github.com/raaihank/compliance-sentinel/internal/rules"
)

// ErrAIDisabled is returned by operations that require an AI reviewer
// when none is attached.
var ErrAIDisabled = errors.New("ai review is disabled")

// Engine drives the validation pipeline: cached rule matching, the
// sensitive-data scan, and the join with the asynchronous AI review
// path. Rule matching and scanning run synchronously on the calling
// goroutine; the AI opinion runs in parallel and is joined only when
// the verdict is composed.
type Engine struct {
	store   *rules.Store
	matcher *match.Matcher
	scanner *privacy.Scanner
	cache   *cache.MemoryCache

	reviewer *ai.Reviewer
	trail    *audit.Trail
	metrics  *metrics.Metrics

	logger *logger.Logger
}

func NewEngine(store *rules.Store, matcher *match.Matcher, scanner *privacy.Scanner, memCache *cache.MemoryCache, log *logger.Logger) *Engine {
	return &Engine{
		store:   store,
		matcher: matcher,
		scanner: scanner,
		cache:   memCache,
		logger:  log.WithComponent("engine"),
	}
}

// AttachReviewer enables the AI review path.
func (e *Engine) AttachReviewer(r *ai.Reviewer) { e.reviewer = r }

// AttachTrail enables audit event recording.
func (e *Engine) AttachTrail(t *audit.Trail) { e.trail = t }

// AttachMetrics enables Prometheus instrumentation.
func (e *Engine) AttachMetrics(m *metrics.Metrics) { e.metrics = m }

// RulesFor returns the active rules for a jurisdiction through the
// cache. Rule loads invalidate the entry, so a hit is never stale.
func (e *Engine) RulesFor(ctx context.Context, jurisdiction string) ([]rules.Rule, error) {
	v, err := e.cache.GetOrCompute(ctx, cache.Key(jurisdiction, ""), func(ctx context.Context) (interface{}, error) {
		return e.store.Get(jurisdiction), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]rules.Rule), nil
}

// CheckCompliance runs the rule-based check for one document. Results
// are cached per (jurisdiction, content fingerprint) and recomputed
// after any rule change for that jurisdiction.
func (e *Engine) CheckCompliance(ctx context.Context, docText, jurisdiction string) (*CheckResult, error) {
	start := time.Now()

	key := cache.Key(jurisdiction, "check:"+cache.Fingerprint(docText))
	v, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (interface{}, error) {
		ruleSet, err := e.RulesFor(ctx, jurisdiction)
		if err != nil {
			return nil, err
		}
		return e.matcher.Match(docText, ruleSet), nil
	})
	if err != nil {
		return nil, err
	}
	violations := v.([]match.Violation)

	e.metrics.RecordCheck(jurisdiction, len(violations), time.Since(start))
	for _, violation := range violations {
		e.metrics.RecordViolation(jurisdiction, violation.Severity)
	}
	e.audit(audit.Event{
		Type:         audit.EventCheck,
		Jurisdiction: jurisdiction,
		Count:        len(violations),
	})
	e.logger.Info("Compliance check completed",
		zap.String("jurisdiction", jurisdiction),
		zap.Int("violations", len(violations)),
		zap.Duration("duration", time.Since(start)))

	return &CheckResult{
		Jurisdiction: jurisdiction,
		Compliant:    len(violations) == 0,
		Violations:   violations,
		CheckedAt:    time.Now().UTC(),
	}, nil
}

// Scan runs the sensitive-data detectors over the document and returns
// the findings with a masked copy of the text.
func (e *Engine) Scan(docText string) *ScanReport {
	result := e.scanner.Scan(docText)

	for _, m := range result.Matches {
		e.metrics.RecordScanMatch(m.Category)
	}
	e.audit(audit.Event{
		Type:  audit.EventScan,
		Count: len(result.Matches),
	})

	return &ScanReport{
		OriginalLength:  len(docText),
		ProtectedLength: len(result.MaskedText),
		Count:           len(result.Matches),
		Matches:         result.Matches,
		MaskedText:      result.MaskedText,
		ScannedAt:       time.Now().UTC(),
	}
}

// ValidateDocument produces the full compliance verdict. The AI
// opinion is requested up front and joined after the synchronous rule
// check; if the AI path fails, the verdict falls back to rule findings
// alone and is marked accordingly.
func (e *Engine) ValidateDocument(ctx context.Context, docText, jurisdiction string) (*ComplianceVerdict, error) {
	type opinionOutcome struct {
		opinion *ai.ComplianceOpinion
		err     error
	}

	var opinionCh chan opinionOutcome
	if e.reviewer != nil {
		opinionCh = make(chan opinionOutcome, 1)
		aiStart := time.Now()
		go func() {
			opinion, err := e.reviewer.ComplianceOpinion(ctx, docText, jurisdiction)
			e.recordAIOutcome(ai.OpComplianceOpinion, err, opinion != nil && opinion.Degraded, time.Since(aiStart))
			opinionCh <- opinionOutcome{opinion: opinion, err: err}
		}()
	}

	check, err := e.CheckCompliance(ctx, docText, jurisdiction)
	if err != nil {
		return nil, err
	}

	var opinion *ai.ComplianceOpinion
	if opinionCh != nil {
		outcome := <-opinionCh
		if outcome.err != nil {
			e.logger.Warn("AI review failed, composing rule-only verdict",
				zap.String("jurisdiction", jurisdiction),
				zap.Error(outcome.err))
		} else {
			opinion = outcome.opinion
		}
	}

	verdict := Compose(jurisdiction, opinion, check.Violations)
	e.logger.Info("Document validated",
		zap.String("jurisdiction", jurisdiction),
		zap.Bool("compliant", verdict.OverallCompliant),
		zap.Int("fails", len(verdict.Fails)),
		zap.Bool("ai_reviewed", verdict.AIReviewed))
	return verdict, nil
}

// AssessRisk combines the AI risk assessment with the deterministic
// sensitive-data scan: detections fold into a Data Protection category
// and can only raise the overall score, capped at the top of the scale.
func (e *Engine) AssessRisk(ctx context.Context, docText string) (*ai.RiskAssessment, error) {
	if e.reviewer == nil {
		return nil, ErrAIDisabled
	}

	start := time.Now()
	result, err := e.reviewer.AssessRisk(ctx, docText)
	e.recordAIOutcome(ai.OpRiskAssessment, err, result != nil && result.Degraded, time.Since(start))
	if err != nil {
		return nil, err
	}

	scan := e.scanner.Scan(docText)
	if n := len(scan.Matches); n > 0 {
		score := n
		if score > 10 {
			score = 10
		}
		result.RiskCategories = append(result.RiskCategories, ai.RiskCategory{
			Category: "Data Protection",
			Score:    score,
			Details:  fmt.Sprintf("Detected %d sensitive data items: %s", n, strings.Join(matchCategories(scan.Matches), ", ")),
		})
		if score > result.OverallRiskScore {
			result.OverallRiskScore = score
		}
	}
	return result, nil
}

// RecordAIReview reports an AI operation outcome for operations the
// engine does not orchestrate itself (contract analysis, research).
func (e *Engine) RecordAIReview(op ai.Operation, err error, degraded bool, duration time.Duration) {
	e.recordAIOutcome(op, err, degraded, duration)
}

func (e *Engine) recordAIOutcome(op ai.Operation, err error, degraded bool, duration time.Duration) {
	outcome := "ok"
	detail := ""
	switch {
	case err != nil:
		outcome = "error"
		detail = err.Error()
	case degraded:
		outcome = "degraded"
		detail = "response fell back to raw summary"
	}
	e.metrics.RecordAIRequest(string(op), outcome, duration)
	e.audit(audit.Event{
		Type:   audit.EventAIReview,
		Detail: fmt.Sprintf("%s: %s", op, outcome),
	})
	if detail != "" {
		e.logger.Debug("AI review outcome",
			zap.String("operation", string(op)),
			zap.String("outcome", outcome),
			zap.String("detail", detail))
	}
}

func (e *Engine) audit(event audit.Event) {
	if e.trail == nil {
		return
	}
	e.trail.Record(event)
}

func matchCategories(matches []privacy.SensitiveMatch) []string {
	seen := make(map[string]bool, len(matches))
	var categories []string
	for _, m := range matches {
		if !seen[m.Category] {
			seen[m.Category] = true
			categories = append(categories, m.Category)
		}
	}
	sort.Strings(categories)
	return categories
}
