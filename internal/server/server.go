package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/audit"
	"github.com/raaihank/compliance-sentinel/internal/cache"
	"github.com/raaihank/compliance-sentinel/internal/compliance"
	"github.com/raaihank/compliance-sentinel/internal/config"
	"github.com/raaihank/compliance-sentinel/internal/logger"
	"github.com/raaihank/compliance-sentinel/internal/match"
	"github.com/raaihank/compliance-sentinel/internal/metrics"
	"github.com/raaihank/compliance-sentinel/internal/privacy"
	"github.com/raaihank/compliance-sentinel/internal/rules"
	"github.com/raaihank/compliance-sentinel/internal/security"
	"github.com/raaihank/compliance-sentinel/internal/websocket"
)

// Server wires the validation pipeline behind the HTTP API
type Server struct {
	config *config.Config
	logger *logger.Logger

	store    *rules.Store
	loader   *rules.Loader
	watcher  *rules.Watcher
	db       *rules.PostgresStore
	memCache *cache.MemoryCache
	aiCache  *cache.AIResultCache
	reviewer *ai.Reviewer
	engine   *compliance.Engine
	trail    *audit.Trail
	exporter *audit.Exporter

	metrics     *metrics.Metrics
	registry    *prometheus.Registry
	wsHub       *websocket.Hub
	rateLimiter *security.RateLimiter
	cron        *cron.Cron

	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New builds the full pipeline from configuration. Optional tiers
// (Postgres, Redis, the AI backend, the audit trail, WebSocket) are
// wired only when enabled; the rule engine itself always runs.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: log.WithComponent("server"),
		router: mux.NewRouter(),
	}

	s.store = rules.NewStore(log)
	s.memCache = cache.NewMemoryCache(cache.Config{
		TTL:             cfg.Cache.TTL,
		IdleTTL:         cfg.Cache.IdleTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, log)
	s.store.SetInvalidator(s.memCache)
	s.loader = rules.NewLoader(s.store, s.memCache, log)

	matcher := match.NewMatcher(log)
	scanner := privacy.NewScanner(log)
	if cfg.Scanner.Enabled {
		scanner.Configure(cfg.Scanner.Detectors)
	} else {
		for _, category := range scanner.Categories() {
			scanner.DisableDetector(category)
		}
	}

	s.engine = compliance.NewEngine(s.store, matcher, scanner, s.memCache, log)

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewWith(s.registry)
	s.engine.AttachMetrics(s.metrics)

	if cfg.Postgres.Enabled {
		db, err := rules.NewPostgresStore(&rules.PostgresConfig{
			URL:             cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rule persistence: %w", err)
		}
		s.db = db
		s.loader.AttachPersistence(db)
	}

	if cfg.AI.Enabled {
		aiConfig := &ai.Config{
			Provider:          cfg.AI.Provider,
			BaseURL:           cfg.AI.BaseURL,
			APIKey:            cfg.AI.APIKey,
			Model:             cfg.AI.Model,
			Timeout:           cfg.AI.Timeout,
			MaxRetries:        cfg.AI.MaxRetries,
			RequestsPerSecond: cfg.AI.RateLimit.RequestsPerSecond,
			Burst:             cfg.AI.RateLimit.Burst,
		}
		backend, err := ai.NewFactory(log.Logger).CreateBackend(ctx, aiConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create AI backend: %w", err)
		}
		s.reviewer = ai.NewReviewer(backend, aiConfig, log)

		if cfg.Redis.Enabled {
			aiCache, err := cache.NewAIResultCache(&cache.RedisConfig{
				URL:             cfg.Redis.URL,
				KeyPrefix:       cfg.Redis.KeyPrefix,
				DefaultTTL:      cfg.Redis.DefaultTTL,
				MaxConnections:  cfg.Redis.MaxConnections,
				MinIdleConns:    cfg.Redis.MinIdleConns,
				ConnMaxLifetime: cfg.Redis.ConnMaxLifetime,
			}, log.Logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize AI result cache: %w", err)
			}
			s.aiCache = aiCache
			s.reviewer.AttachCache(aiCache)
		}
		s.engine.AttachReviewer(s.reviewer)
	}

	if cfg.Audit.Enabled {
		s.trail = audit.NewTrail(cfg.Audit.RingSize, log)
		s.engine.AttachTrail(s.trail)
		if cfg.Audit.Export.Enabled {
			s.exporter = audit.NewExporter(s.trail, cfg.Audit.Export.Directory, log)
		}
	}

	if cfg.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(&websocket.HubConfig{
			BroadcastChecks:        cfg.WebSocket.Events.BroadcastChecks,
			BroadcastSensitiveData: cfg.WebSocket.Events.BroadcastSensitiveData,
			BroadcastRuleReloads:   cfg.WebSocket.Events.BroadcastRuleReloads,
			BroadcastAIReviews:     cfg.WebSocket.Events.BroadcastAIReviews,
			BroadcastConnections:   cfg.WebSocket.Events.BroadcastConnections,
			ReadBufferSize:         cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:        cfg.WebSocket.WriteBufferSize,
			Username:               cfg.WebSocket.Username,
			Password:               cfg.WebSocket.Password,
		}, log.Logger)
		s.wsHub.AttachMetrics(s.metrics)
	}

	s.loader.OnLoad(s.onRulesLoaded)

	if cfg.Rules.Watch {
		s.watcher = rules.NewWatcher(s.loader, cfg.Rules.Path, cfg.Rules.ReloadDebounce, log)
	}

	s.rateLimiter = security.NewRateLimiter(&security.RateLimitConfig{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})

	if err := s.setupCron(); err != nil {
		return nil, err
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	// Operational endpoints
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	if s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket)
	}

	// Compliance API
	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/validate", s.handleValidate).Methods("POST")
	api.HandleFunc("/check", s.handleCheck).Methods("POST")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/analyze/contract", s.handleAnalyzeContract).Methods("POST")
	api.HandleFunc("/research", s.handleResearch).Methods("POST")
	api.HandleFunc("/risk", s.handleAssessRisk).Methods("POST")

	// Rule administration. Fixed paths are registered before the
	// {jurisdiction} routes so they are not captured as variables.
	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/rules", s.handleListRules).Methods("GET")
	admin.HandleFunc("/rules", s.handleUpsertRule).Methods("POST")
	admin.HandleFunc("/rules/stats", s.handleRuleStats).Methods("GET")
	admin.HandleFunc("/rules/reload", s.handleReloadRules).Methods("POST")
	admin.HandleFunc("/rules/import", s.handleImportRules).Methods("POST")
	admin.HandleFunc("/rules/toggle", s.handleToggleRule).Methods("POST")
	admin.HandleFunc("/rules/{jurisdiction}", s.handleListJurisdictionRules).Methods("GET")
	admin.HandleFunc("/rules/{jurisdiction}/{name}", s.handleDeleteRule).Methods("DELETE")
	admin.HandleFunc("/cache/invalidate", s.handleInvalidateCache).Methods("POST")
	admin.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	admin.HandleFunc("/audit", s.handleAuditTrail).Methods("GET")
	admin.HandleFunc("/audit/export", s.handleAuditExport).Methods("POST")
}

// setupCron registers the scheduled jobs that are enabled in config
func (s *Server) setupCron() error {
	exportScheduled := s.exporter != nil && s.config.Audit.Export.Schedule != ""
	resyncScheduled := s.db != nil && s.config.Postgres.ResyncSchedule != ""
	if !exportScheduled && !resyncScheduled {
		return nil
	}

	s.cron = cron.New()
	if exportScheduled {
		schedule := s.config.Audit.Export.Schedule
		if _, err := s.cron.AddFunc(schedule, s.runAuditExport); err != nil {
			return fmt.Errorf("invalid audit export schedule %q: %w", schedule, err)
		}
	}
	if resyncScheduled {
		schedule := s.config.Postgres.ResyncSchedule
		if _, err := s.cron.AddFunc(schedule, s.runPersistenceSync); err != nil {
			return fmt.Errorf("invalid persistence resync schedule %q: %w", schedule, err)
		}
	}
	return nil
}

func (s *Server) runAuditExport() {
	path, count, err := s.exporter.Export()
	if err != nil {
		s.logger.Error("Scheduled audit export failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("Scheduled audit export completed",
			zap.String("path", path),
			zap.Int("events", count))
	}
}

func (s *Server) runPersistenceSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.loader.SyncFromPersistence(ctx); err != nil {
		s.logger.Error("Scheduled rule sync failed", zap.Error(err))
	}
}

// onRulesLoaded fans a completed load batch out to metrics, the audit
// trail, and connected WebSocket clients.
func (s *Server) onRulesLoaded(result rules.LoadResult) {
	s.metrics.RecordRuleLoad()
	s.updateActiveRuleGauges()

	if s.trail != nil {
		s.trail.Record(audit.Event{
			Type:   audit.EventRuleLoad,
			Detail: result.Source,
			Count:  result.Applied,
		})
	}
	if s.wsHub != nil {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeRuleReload,
			Timestamp: time.Now().UTC(),
			Data: websocket.RuleReloadEvent{
				Source:        result.Source,
				Applied:       result.Applied,
				Skipped:       result.Skipped,
				Jurisdictions: result.Jurisdictions,
				FullReload:    result.FullReload,
				DurationMS:    durationMS(result.Duration),
			},
		})
	}
}

func (s *Server) updateActiveRuleGauges() {
	active := make(map[string]int)
	for _, rule := range s.store.All() {
		if _, ok := active[rule.Jurisdiction]; !ok {
			active[rule.Jurisdiction] = 0
		}
		if rule.Active {
			active[rule.Jurisdiction]++
		}
	}
	for jurisdiction, count := range active {
		s.metrics.SetActiveRules(jurisdiction, count)
	}
}

// Start loads the initial rule set, launches the background loops, and
// serves HTTP. It blocks until the server stops.
func (s *Server) Start() error {
	if s.wsHub != nil {
		go s.wsHub.Run()
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := s.loader.LoadFile(loadCtx, s.config.Rules.Path); err != nil {
		s.logger.Error("Initial rule load failed",
			zap.String("path", s.config.Rules.Path),
			zap.Error(err))
	}
	if s.db != nil {
		if _, err := s.loader.SyncFromPersistence(loadCtx); err != nil {
			s.logger.Error("Initial rule sync from persistence failed", zap.Error(err))
		}
	}
	cancel()

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.logger.Error("Rule file watcher failed to start", zap.Error(err))
		}
	}
	if s.cron != nil {
		s.cron.Start()
	}

	s.started = time.Now()
	s.logger.Info("Compliance sentinel listening",
		zap.Int("port", s.config.Server.Port),
		zap.Int("rules_loaded", s.store.Count()),
		zap.Bool("ai_enabled", s.reviewer != nil),
		zap.Bool("websocket_enabled", s.wsHub != nil),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down and releases every resource.
// The audit ring is flushed to Parquet on the way out when export is
// configured.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down compliance sentinel")

	err := s.server.Shutdown(ctx)

	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.exporter != nil {
		if _, _, exportErr := s.exporter.Export(); exportErr != nil {
			s.logger.Warn("Final audit export failed", zap.Error(exportErr))
		}
	}
	if s.reviewer != nil {
		if closeErr := s.reviewer.Close(); closeErr != nil {
			s.logger.Warn("AI backend close failed", zap.Error(closeErr))
		}
	}
	if s.aiCache != nil {
		if closeErr := s.aiCache.Close(); closeErr != nil {
			s.logger.Warn("AI result cache close failed", zap.Error(closeErr))
		}
	}
	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil {
			s.logger.Warn("Rule persistence close failed", zap.Error(closeErr))
		}
	}
	s.memCache.Stop()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":       "healthy",
		"service":      "compliance-sentinel",
		"rules_loaded": s.store.Count(),
		"ai_enabled":   s.reviewer != nil,
		"time":         time.Now().UTC().Format(time.RFC3339),
	}
	if !s.started.IsZero() {
		response["uptime"] = time.Since(s.started).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, response)
}
