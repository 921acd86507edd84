package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore persists compliance rules so the in-memory store can be
// warm-started across restarts. The in-memory store remains the source of
// truth for the matching path; this layer is write-through only.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PostgresConfig contains database configuration
type PostgresConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const schema = `
CREATE TABLE IF NOT EXISTS compliance_rules (
	id            BIGSERIAL PRIMARY KEY,
	jurisdiction  VARCHAR(100) NOT NULL,
	rule_name     VARCHAR(100) NOT NULL,
	description   TEXT,
	regex_pattern TEXT NOT NULL,
	severity      VARCHAR(50),
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (jurisdiction, rule_name)
)`

// NewPostgresStore connects to the database and ensures the schema exists
func NewPostgresStore(config *PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize rule persistence: %w", err)
	}

	logger.Info("Rule persistence initialized",
		zap.String("database_url", maskDatabaseURL(config.URL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the connection and creates the rules table
func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create compliance_rules table: %w", err)
	}

	return nil
}

// Save upserts one rule keyed by (jurisdiction, rule_name)
func (s *PostgresStore) Save(ctx context.Context, rule Rule) error {
	query := `
		INSERT INTO compliance_rules (jurisdiction, rule_name, description, regex_pattern, severity, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (jurisdiction, rule_name) DO UPDATE SET
			description   = EXCLUDED.description,
			regex_pattern = EXCLUDED.regex_pattern,
			severity      = EXCLUDED.severity,
			active        = EXCLUDED.active,
			updated_at    = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		rule.Jurisdiction,
		rule.Name,
		rule.Description,
		rule.Pattern,
		rule.Severity,
		rule.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s/%s: %w", rule.Jurisdiction, rule.Name, err)
	}

	s.logger.Debug("Rule persisted",
		zap.String("jurisdiction", rule.Jurisdiction),
		zap.String("rule", rule.Name))
	return nil
}

// LoadAll returns every persisted rule, ordered by jurisdiction then name
func (s *PostgresStore) LoadAll(ctx context.Context) ([]Rule, error) {
	query := `
		SELECT jurisdiction, rule_name, description, regex_pattern, severity, active, created_at, updated_at
		FROM compliance_rules
		ORDER BY jurisdiction, rule_name`

	var result []Rule
	if err := s.db.SelectContext(ctx, &result, query); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return result, nil
}

// Delete removes one persisted rule
func (s *PostgresStore) Delete(ctx context.Context, jurisdiction, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM compliance_rules WHERE jurisdiction = $1 AND rule_name = $2`,
		jurisdiction, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s/%s: %w", jurisdiction, name, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("rule %s/%s not found", jurisdiction, name)
	}
	return nil
}

// Count returns the number of persisted rules
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM compliance_rules`); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	// Simple masking - replace password with ***
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
