package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/config"
	"github.com/raaihank/compliance-sentinel/internal/logger"
	"github.com/raaihank/compliance-sentinel/internal/rules"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		lintFile   = flag.String("lint", "", "Validate a rule document without applying it")
		importFile = flag.String("import", "", "Import a rule document into the database")
		exportFile = flag.String("export", "", "Export database rules to a JSON document ('-' for stdout)")
		showStats  = flag.Bool("stats", false, "Show rule statistics and exit")
	)
	flag.Parse()

	if *lintFile == "" && *importFile == "" && *exportFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --lint configs/compliance_rules.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --import configs/compliance_rules.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --export rules_backup.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	svc, err := initializeServices(cfg, log, needsDatabase(*importFile, *exportFile, *showStats))
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.cleanup()

	switch {
	case *lintFile != "":
		if err := lintDocument(ctx, svc, *lintFile, log); err != nil {
			log.Fatal("Lint failed", zap.Error(err))
		}
	case *importFile != "":
		if err := importDocument(ctx, svc, *importFile, log); err != nil {
			log.Fatal("Import failed", zap.Error(err))
		}
	case *exportFile != "":
		if err := exportDocument(ctx, svc, *exportFile, log); err != nil {
			log.Fatal("Export failed", zap.Error(err))
		}
	case *showStats:
		if err := showRuleStats(ctx, svc); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
	}
}

func needsDatabase(importFile, exportFile string, showStats bool) bool {
	return importFile != "" || exportFile != "" || showStats
}

// services holds the initialized components
type services struct {
	store  *rules.Store
	loader *rules.Loader
	db     *rules.PostgresStore
}

func (s *services) cleanup() {
	if s.db != nil {
		s.db.Close()
	}
}

func initializeServices(cfg *config.Config, log *logger.Logger, withDB bool) (*services, error) {
	svc := &services{}
	svc.store = rules.NewStore(log)
	svc.loader = rules.NewLoader(svc.store, nil, log)

	if withDB {
		if !cfg.Postgres.Enabled {
			return nil, fmt.Errorf("postgres is not enabled in the configuration")
		}
		db, err := rules.NewPostgresStore(&rules.PostgresConfig{
			URL:             cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		svc.db = db
	}
	return svc, nil
}

// lintDocument parses a rule document into a throwaway store and
// reports what would be applied. Nothing is persisted.
func lintDocument(ctx context.Context, svc *services, path string, log *logger.Logger) error {
	var outcome rules.LoadResult
	svc.loader.OnLoad(func(result rules.LoadResult) { outcome = result })

	if _, err := svc.loader.LoadFile(ctx, path); err != nil {
		return err
	}

	fmt.Printf("\n=== Rule Document Lint ===\n")
	fmt.Printf("Document:       %s\n", path)
	fmt.Printf("Valid rules:    %d\n", outcome.Applied)
	fmt.Printf("Skipped rules:  %d\n", outcome.Skipped)
	fmt.Printf("Jurisdictions:  %v\n", outcome.Jurisdictions)
	if outcome.Skipped > 0 {
		fmt.Printf("\n%d record(s) were skipped; see the log above for details.\n", outcome.Skipped)
		os.Exit(1)
	}
	return nil
}

// importDocument loads a rule document and writes every applied rule
// through to the database
func importDocument(ctx context.Context, svc *services, path string, log *logger.Logger) error {
	svc.loader.AttachPersistence(svc.db)

	applied, err := svc.loader.LoadFile(ctx, path)
	if err != nil {
		return err
	}

	count, err := svc.db.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count persisted rules: %w", err)
	}

	log.Info("Rule document imported",
		zap.String("document", path),
		zap.Int("applied", applied),
		zap.Int64("persisted_total", count))
	return nil
}

// exportDocument writes every persisted rule as a JSON rule document
func exportDocument(ctx context.Context, svc *services, path string, log *logger.Logger) error {
	persisted, err := svc.db.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted rules: %w", err)
	}

	doc := rules.RuleDocument{
		Metadata: rules.DocumentMetadata{
			Version:     time.Now().UTC().Format("20060102150405"),
			LastUpdated: time.Now().UTC().Format("2006-01-02"),
		},
		Rules: make([]rules.RuleRecord, 0, len(persisted)),
	}
	for _, rule := range persisted {
		active := rule.Active
		doc.Rules = append(doc.Rules, rules.RuleRecord{
			Jurisdiction: rule.Jurisdiction,
			RuleName:     rule.Name,
			Description:  rule.Description,
			RegexPattern: rule.Pattern,
			Severity:     rule.Severity,
			Active:       &active,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	log.Info("Rules exported",
		zap.String("document", path),
		zap.Int("rules", len(doc.Rules)))
	return nil
}

// showRuleStats displays current rule statistics from the database
func showRuleStats(ctx context.Context, svc *services) error {
	persisted, err := svc.db.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted rules: %w", err)
	}
	for _, rule := range persisted {
		if err := svc.store.Upsert(rule); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping invalid persisted rule %s/%s: %v\n",
				rule.Jurisdiction, rule.Name, err)
		}
	}
	stats := svc.store.Stats()

	fmt.Printf("\n=== Compliance-Sentinel Rule Statistics ===\n")
	fmt.Printf("Total Rules:     %d\n", stats.TotalRules)
	fmt.Printf("Active Rules:    %d\n", stats.ActiveRules)
	fmt.Printf("Inactive Rules:  %d\n", stats.InactiveRules)

	fmt.Printf("\n=== By Jurisdiction ===\n")
	for _, jurisdiction := range sortedKeys(stats.ByJurisdiction) {
		fmt.Printf("%-16s %d\n", jurisdiction, stats.ByJurisdiction[jurisdiction])
	}

	fmt.Printf("\n=== By Severity ===\n")
	for _, severity := range sortedKeys(stats.BySeverity) {
		fmt.Printf("%-16s %d\n", severity, stats.BySeverity[severity])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
