package privacy

import (
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// detector is one built-in category pattern with its masking token
type detector struct {
	category string
	pattern  *regexp.Regexp
	token    string
}

// builtinDetectors returns the fixed detector set in application order.
// Patterns for medical identifiers match case-insensitively; the rest are
// already case-neutral.
func builtinDetectors() []detector {
	return []detector{
		{CategoryEmail, regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL_REDACTED]"},
		{CategoryNationalID, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
		{CategoryPhone, regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE_REDACTED]"},
		{CategoryPaymentCard, regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), "[CC_REDACTED]"},
		{CategoryMedicalRecord, regexp.MustCompile(`(?i)\bMRN[:\s]*\d{6,10}\b`), "[MRN_REDACTED]"},
		{CategoryPatientID, regexp.MustCompile(`(?i)\bPATIENT[\s_-]?ID[:\s]*\d{6,10}\b`), "[PATIENT_ID_REDACTED]"},
	}
}

// Scanner runs the built-in sensitive-data detectors. Detection always runs
// against the original text so one detector's replacement can never create
// or hide another detector's match; the masked copy is produced afterwards.
type Scanner struct {
	detectors []detector

	mu      sync.RWMutex
	enabled map[string]bool

	logger *logger.Logger
}

// NewScanner creates a scanner with every detector enabled
func NewScanner(log *logger.Logger) *Scanner {
	s := &Scanner{
		detectors: builtinDetectors(),
		enabled:   make(map[string]bool),
		logger:    log.WithComponent("privacy"),
	}
	for _, d := range s.detectors {
		s.enabled[d.category] = true
	}
	return s
}

// Configure restricts the enabled detectors to the given categories.
// The single entry "all" enables everything.
func (s *Scanner) Configure(categories []string) {
	all := len(categories) == 0 || (len(categories) == 1 && categories[0] == "all")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.detectors {
		s.enabled[d.category] = all
	}
	if all {
		return
	}
	for _, c := range categories {
		if _, ok := s.enabled[c]; ok {
			s.enabled[c] = true
		} else {
			s.logger.Warn("Unknown detector category in config", zap.String("category", c))
		}
	}
}

// EnableDetector turns one detector category on
func (s *Scanner) EnableDetector(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enabled[category]; ok {
		s.enabled[category] = true
	}
}

// DisableDetector turns one detector category off
func (s *Scanner) DisableDetector(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enabled[category]; ok {
		s.enabled[category] = false
	}
}

// Categories returns the detector categories in application order
func (s *Scanner) Categories() []string {
	result := make([]string, len(s.detectors))
	for i, d := range s.detectors {
		result[i] = d.category
	}
	return result
}

// Scan detects sensitive data in the text and returns the findings plus a
// masked copy with every match replaced by its category token. Empty input
// yields zero matches and the input unchanged.
func (s *Scanner) Scan(text string) ScanResult {
	result := ScanResult{
		Matches:    make([]SensitiveMatch, 0),
		MaskedText: text,
		Original:   text,
	}
	if text == "" {
		return result
	}

	s.mu.RLock()
	active := make([]detector, 0, len(s.detectors))
	for _, d := range s.detectors {
		if s.enabled[d.category] {
			active = append(active, d)
		}
	}
	s.mu.RUnlock()

	// Pass 1: detect against the original text
	for _, d := range active {
		for _, loc := range d.pattern.FindAllStringIndex(text, -1) {
			result.Matches = append(result.Matches, SensitiveMatch{
				Category:    d.category,
				MatchedText: text[loc[0]:loc[1]],
				Offset:      loc[0],
			})
		}
	}

	// Pass 2: mask
	masked := text
	for _, d := range active {
		masked = d.pattern.ReplaceAllString(masked, d.token)
	}
	result.MaskedText = masked

	if len(result.Matches) > 0 {
		s.logger.Debug("Sensitive data detected",
			zap.Int("matches", len(result.Matches)),
		)
	}
	return result
}
