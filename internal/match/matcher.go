package match

import (
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/logger"
	"github.com/raaihank/compliance-sentinel/internal/rules"
)

// Violation is one firing of a compliance rule against document text
type Violation struct {
	RuleName     string    `json:"rule_name"`
	Jurisdiction string    `json:"jurisdiction"`
	Description  string    `json:"description"`
	Severity     string    `json:"severity"`
	MatchedText  string    `json:"matched_text"`
	Offset       int       `json:"offset"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Matcher applies rule patterns to document text. Patterns compile
// case-insensitive and are cached by source string; a pattern that fails to
// compile is skipped with a warning, never fatal to the check. Output is
// deterministic: rule application order, then match start offset.
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
	failed   map[string]error

	logger *logger.Logger
}

// NewMatcher creates a matcher with an empty pattern cache
func NewMatcher(log *logger.Logger) *Matcher {
	return &Matcher{
		compiled: make(map[string]*regexp.Regexp),
		failed:   make(map[string]error),
		logger:   log.WithComponent("matcher"),
	}
}

// Match scans the full text with every rule in the given order and records
// all non-overlapping matches, left-to-right. Rules are evaluated
// independently; one rule's matches never suppress another's.
func (m *Matcher) Match(text string, ruleSet []rules.Rule) []Violation {
	violations := make([]Violation, 0)
	if text == "" {
		return violations
	}

	now := time.Now()
	for _, rule := range ruleSet {
		re, err := m.compile(rule.Pattern)
		if err != nil {
			m.logger.Warn("Skipping rule with invalid pattern",
				zap.String("jurisdiction", rule.Jurisdiction),
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			continue
		}

		severity := rule.Severity
		if severity == "" {
			severity = rules.DefaultSeverity
		}

		for _, loc := range re.FindAllStringIndex(text, -1) {
			violations = append(violations, Violation{
				RuleName:     rule.Name,
				Jurisdiction: rule.Jurisdiction,
				Description:  rule.Description,
				Severity:     severity,
				MatchedText:  text[loc[0]:loc[1]],
				Offset:       loc[0],
				DetectedAt:   now,
			})
		}
	}
	return violations
}

// compile returns the cached case-insensitive regexp for a pattern source,
// compiling on first use. Compile failures are cached too, so a bad pattern
// costs one compilation attempt rather than one per check.
func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, ok := m.compiled[pattern]
	if !ok {
		err, failedBefore := m.failed[pattern]
		m.mu.RUnlock()
		if failedBefore {
			return nil, err
		}
	} else {
		m.mu.RUnlock()
		return re, nil
	}

	compiled, err := regexp.Compile("(?i)" + pattern)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed[pattern] = err
		return nil, err
	}
	m.compiled[pattern] = compiled
	return compiled, nil
}
