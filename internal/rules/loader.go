package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// LoadResult describes one completed load batch
type LoadResult struct {
	Source        string        `json:"source"`
	Applied       int           `json:"applied"`
	Skipped       int           `json:"skipped"`
	Jurisdictions []string      `json:"jurisdictions"`
	FullReload    bool          `json:"full_reload"`
	Duration      time.Duration `json:"duration"`
}

// LoadListener is notified after every completed load batch
type LoadListener func(result LoadResult)

// Loader parses external rule documents into the store. Records are applied
// independently: a malformed record is skipped with a warning and the batch
// continues. A file load counts as a full reset and invalidates the whole
// cache; string imports invalidate per touched jurisdiction through the
// store's mutation hook.
type Loader struct {
	store       *Store
	invalidator Invalidator
	db          *PostgresStore
	logger      *logger.Logger
	listeners   []LoadListener

	path string // last file source, used by Reload
}

// NewLoader creates a rule loader bound to a store
func NewLoader(store *Store, invalidator Invalidator, log *logger.Logger) *Loader {
	return &Loader{
		store:       store,
		invalidator: invalidator,
		logger:      log.WithComponent("rules"),
	}
}

// AttachPersistence enables write-through of applied rules to Postgres.
// Persistence failures are logged and never abort the in-memory load.
func (l *Loader) AttachPersistence(db *PostgresStore) {
	l.db = db
}

// OnLoad registers a listener for completed load batches
func (l *Loader) OnLoad(fn LoadListener) {
	l.listeners = append(l.listeners, fn)
}

// LoadFile loads a rule document from disk (JSON, or YAML by extension) and
// returns the number of rules applied. The file is treated as a full reset:
// after the batch, every cache entry is invalidated.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules file: %w", err)
	}

	records, meta, err := parseDocument(data, isYAMLPath(path))
	if err != nil {
		return 0, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	applied, skipped, touched := l.applyRecords(ctx, records)
	l.path = path

	if l.invalidator != nil {
		l.invalidator.InvalidateAll()
	}

	l.logger.Info("Compliance rules loaded",
		zap.String("source", path),
		zap.String("document_version", meta.Version),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)

	l.notify(LoadResult{
		Source:        path,
		Applied:       applied,
		Skipped:       skipped,
		Jurisdictions: touched,
		FullReload:    true,
		Duration:      time.Since(start),
	})
	return applied, nil
}

// LoadString imports rules from an ad-hoc JSON document string. Touched
// jurisdictions are invalidated record-by-record through the store hook.
func (l *Loader) LoadString(ctx context.Context, content string) (int, error) {
	start := time.Now()

	records, meta, err := parseDocument([]byte(content), false)
	if err != nil {
		return 0, fmt.Errorf("failed to parse rules document: %w", err)
	}

	applied, skipped, touched := l.applyRecords(ctx, records)

	l.logger.Info("Compliance rules imported",
		zap.String("source", "string"),
		zap.String("document_version", meta.Version),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)

	l.notify(LoadResult{
		Source:        "string",
		Applied:       applied,
		Skipped:       skipped,
		Jurisdictions: touched,
		Duration:      time.Since(start),
	})
	return applied, nil
}

// Reload re-reads the last loaded rules file
func (l *Loader) Reload(ctx context.Context) (int, error) {
	if l.path == "" {
		return 0, fmt.Errorf("no rules file loaded yet")
	}
	return l.LoadFile(ctx, l.path)
}

// SyncFromPersistence pulls every persisted rule into the store. Rules
// created by other instances win over stale in-memory copies, so the whole
// cache is invalidated afterwards.
func (l *Loader) SyncFromPersistence(ctx context.Context) (int, error) {
	if l.db == nil {
		return 0, fmt.Errorf("no persistence attached")
	}
	start := time.Now()

	persisted, err := l.db.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load persisted rules: %w", err)
	}

	applied := 0
	touched := make(map[string]struct{})
	for _, rule := range persisted {
		if err := l.store.Upsert(rule); err != nil {
			l.logger.Warn("Skipping invalid persisted rule",
				zap.String("jurisdiction", rule.Jurisdiction),
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			continue
		}
		applied++
		touched[rule.Jurisdiction] = struct{}{}
	}

	if l.invalidator != nil {
		l.invalidator.InvalidateAll()
	}

	l.logger.Info("Compliance rules synced from persistence",
		zap.Int("applied", applied),
		zap.Int("persisted", len(persisted)),
	)

	jurisdictions := make([]string, 0, len(touched))
	for j := range touched {
		jurisdictions = append(jurisdictions, j)
	}
	sort.Strings(jurisdictions)

	l.notify(LoadResult{
		Source:        "postgres",
		Applied:       applied,
		Skipped:       len(persisted) - applied,
		Jurisdictions: jurisdictions,
		FullReload:    true,
		Duration:      time.Since(start),
	})
	return applied, nil
}

// applyRecords upserts each record independently, returning applied and
// skipped counts plus the sorted set of jurisdictions touched.
func (l *Loader) applyRecords(ctx context.Context, records []rawRecord) (int, int, []string) {
	applied, skipped := 0, 0
	touched := make(map[string]struct{})

	for i, raw := range records {
		record, err := raw.decode()
		if err != nil {
			skipped++
			l.logger.Warn("Skipping malformed rule record",
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}

		rule, err := recordToRule(record)
		if err != nil {
			skipped++
			l.logger.Warn("Skipping invalid rule record",
				zap.Int("index", i),
				zap.String("jurisdiction", record.Jurisdiction),
				zap.String("rule", record.RuleName),
				zap.Error(err),
			)
			continue
		}

		if err := l.store.Upsert(rule); err != nil {
			skipped++
			l.logger.Warn("Skipping rejected rule record",
				zap.Int("index", i),
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			continue
		}
		applied++
		touched[rule.Jurisdiction] = struct{}{}

		if l.db != nil {
			if err := l.db.Save(ctx, rule); err != nil {
				l.logger.Warn("Failed to persist rule",
					zap.String("jurisdiction", rule.Jurisdiction),
					zap.String("rule", rule.Name),
					zap.Error(err),
				)
			}
		}
	}

	jurisdictions := make([]string, 0, len(touched))
	for j := range touched {
		jurisdictions = append(jurisdictions, j)
	}
	sort.Strings(jurisdictions)
	return applied, skipped, jurisdictions
}

func (l *Loader) notify(result LoadResult) {
	for _, fn := range l.listeners {
		fn(result)
	}
}

// recordToRule validates a record and converts it into a store rule.
// Severity defaults to MEDIUM, active defaults to true.
func recordToRule(record RuleRecord) (Rule, error) {
	if strings.TrimSpace(record.Jurisdiction) == "" {
		return Rule{}, &ValidationError{Field: "jurisdiction", Reason: "missing"}
	}
	if strings.TrimSpace(record.RuleName) == "" {
		return Rule{}, &ValidationError{Field: "ruleName", Reason: "missing"}
	}
	if strings.TrimSpace(record.RegexPattern) == "" {
		return Rule{}, &ValidationError{Field: "regexPattern", Reason: "missing"}
	}
	if _, err := regexp.Compile("(?i)" + record.RegexPattern); err != nil {
		return Rule{}, &ValidationError{Field: "regexPattern", Reason: err.Error()}
	}

	active := true
	if record.Active != nil {
		active = *record.Active
	}

	return Rule{
		Jurisdiction: strings.TrimSpace(record.Jurisdiction),
		Name:         strings.TrimSpace(record.RuleName),
		Description:  record.Description,
		Pattern:      record.RegexPattern,
		Severity:     NormalizeSeverity(record.Severity),
		Active:       active,
	}, nil
}

// rawRecord defers per-record decoding so one bad record cannot fail the
// whole document parse.
type rawRecord struct {
	json *json.RawMessage
	yaml *yaml.Node
}

func (r rawRecord) decode() (RuleRecord, error) {
	var record RuleRecord
	if r.json != nil {
		if err := json.Unmarshal(*r.json, &record); err != nil {
			return RuleRecord{}, err
		}
		return record, nil
	}
	if err := r.yaml.Decode(&record); err != nil {
		return RuleRecord{}, err
	}
	return record, nil
}

func parseDocument(data []byte, asYAML bool) ([]rawRecord, DocumentMetadata, error) {
	if asYAML {
		var doc struct {
			Metadata DocumentMetadata `yaml:"metadata"`
			Rules    []yaml.Node      `yaml:"rules"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, DocumentMetadata{}, err
		}
		records := make([]rawRecord, len(doc.Rules))
		for i := range doc.Rules {
			records[i] = rawRecord{yaml: &doc.Rules[i]}
		}
		return records, doc.Metadata, nil
	}

	var doc struct {
		Metadata DocumentMetadata  `json:"metadata"`
		Rules    []json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, DocumentMetadata{}, err
	}
	records := make([]rawRecord, len(doc.Rules))
	for i := range doc.Rules {
		records[i] = rawRecord{json: &doc.Rules[i]}
	}
	return records, doc.Metadata, nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
