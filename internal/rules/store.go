package rules

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// Store holds the current compliance rule set, keyed by (jurisdiction, name).
// It is the single shared mutable resource between the matching path (reads)
// and the loader/admin surface (writes). Every mutation notifies the attached
// Invalidator before returning, so no write path can leave stale cache
// entries behind.
type Store struct {
	mu      sync.RWMutex
	rules   map[string]*Rule
	version string

	invalidator Invalidator
	logger      *logger.Logger
}

// NewStore creates an empty rule store
func NewStore(log *logger.Logger) *Store {
	s := &Store{
		rules:  make(map[string]*Rule),
		logger: log.WithComponent("rules"),
	}
	s.version = s.computeVersion()
	return s
}

// SetInvalidator attaches the cache invalidation hook. Must be called during
// wiring, before concurrent use.
func (s *Store) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Get returns a snapshot of the active rules for a jurisdiction, ordered by
// rule name. The returned slice and its entries are copies.
func (s *Store) Get(jurisdiction string) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Rule, 0)
	for _, r := range s.rules {
		if r.Jurisdiction == jurisdiction && r.Active {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// All returns a snapshot of every rule regardless of active flag, ordered by
// jurisdiction then name.
func (s *Store) All() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Jurisdiction != result[j].Jurisdiction {
			return result[i].Jurisdiction < result[j].Jurisdiction
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Find returns a single rule by its (jurisdiction, name) key
func (s *Store) Find(jurisdiction, name string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[jurisdiction+"|"+name]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// Upsert inserts a rule or overwrites the existing entry with the same
// (jurisdiction, name) key. An update preserves the original creation time.
func (s *Store) Upsert(rule Rule) error {
	if rule.Jurisdiction == "" {
		return &ValidationError{Field: "jurisdiction", Reason: "must not be empty"}
	}
	if rule.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	now := time.Now()

	s.mu.Lock()
	key := rule.Key()
	if existing, ok := s.rules[key]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[key] = &rule
	s.version = s.computeVersion()
	s.mu.Unlock()

	s.notifyInvalidate(rule.Jurisdiction)
	return nil
}

// SetActive toggles a rule's active flag
func (s *Store) SetActive(jurisdiction, name string, active bool) error {
	s.mu.Lock()
	key := jurisdiction + "|" + name
	r, ok := s.rules[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %s/%s not found", jurisdiction, name)
	}
	r.Active = active
	r.UpdatedAt = time.Now()
	s.version = s.computeVersion()
	s.mu.Unlock()

	s.logger.Info("Rule active flag changed",
		zap.String("jurisdiction", jurisdiction),
		zap.String("rule", name),
		zap.Bool("active", active),
	)
	s.notifyInvalidate(jurisdiction)
	return nil
}

// Delete removes a rule from the store
func (s *Store) Delete(jurisdiction, name string) error {
	s.mu.Lock()
	key := jurisdiction + "|" + name
	if _, ok := s.rules[key]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %s/%s not found", jurisdiction, name)
	}
	delete(s.rules, key)
	s.version = s.computeVersion()
	s.mu.Unlock()

	s.notifyInvalidate(jurisdiction)
	return nil
}

// Replace swaps the entire rule set atomically and invalidates every cache
// entry. Records failing validation reject the whole replacement.
func (s *Store) Replace(rules []Rule) error {
	now := time.Now()
	next := make(map[string]*Rule, len(rules))
	for i := range rules {
		r := rules[i]
		if r.Jurisdiction == "" {
			return &ValidationError{Field: "jurisdiction", Reason: "must not be empty"}
		}
		if r.Name == "" {
			return &ValidationError{Field: "name", Reason: "must not be empty"}
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		next[r.Key()] = &r
	}

	s.mu.Lock()
	s.rules = next
	s.version = s.computeVersion()
	s.mu.Unlock()

	if s.invalidator != nil {
		s.invalidator.InvalidateAll()
	}
	return nil
}

// Count returns the number of stored rules
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Version returns a hash of the current rule set content. It changes on
// every mutation, so snapshot consumers can detect staleness cheaply.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Stats summarizes the store for the admin surface. Rules stored without a
// severity are counted under "UNSET".
func (s *Store) Stats() RuleStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RuleStatistics{
		TotalRules:     len(s.rules),
		ByJurisdiction: make(map[string]int),
		BySeverity:     make(map[string]int),
	}
	for _, r := range s.rules {
		if r.Active {
			stats.ActiveRules++
		} else {
			stats.InactiveRules++
		}
		stats.ByJurisdiction[r.Jurisdiction]++
		severity := r.Severity
		if severity == "" {
			severity = "UNSET"
		}
		stats.BySeverity[severity]++
	}
	return stats
}

func (s *Store) notifyInvalidate(jurisdiction string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(jurisdiction)
	}
}

// computeVersion hashes the sorted rule contents. Caller must hold the lock.
func (s *Store) computeVersion() string {
	keys := make([]string, 0, len(s.rules))
	for k := range s.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		r := s.rules[k]
		fmt.Fprintf(h, "%s|%s|%s|%t\n", k, r.Pattern, r.Severity, r.Active)
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
