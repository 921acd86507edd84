package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/audit"
	"github.com/raaihank/compliance-sentinel/internal/compliance"
	"github.com/raaihank/compliance-sentinel/internal/privacy"
	"github.com/raaihank/compliance-sentinel/internal/rules"
	"github.com/raaihank/compliance-sentinel/internal/websocket"
)

const maxRequestBytes = 10 << 20

type documentRequest struct {
	Text         string `json:"text"`
	Jurisdiction string `json:"jurisdiction"`
}

type scanRequest struct {
	Text string `json:"text"`
}

type researchRequest struct {
	Query        string `json:"query"`
	Jurisdiction string `json:"jurisdiction"`
}

type upsertRuleRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Pattern      string `json:"pattern"`
	Severity     string `json:"severity"`
	Active       *bool  `json:"active"`
}

type toggleRuleRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	Name         string `json:"name"`
	Active       bool   `json:"active"`
}

type invalidateRequest struct {
	Jurisdiction string `json:"jurisdiction"`
}

// handleValidate runs the full pipeline: the cached rule check joined
// with the AI compliance opinion.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if strings.TrimSpace(req.Jurisdiction) == "" {
		writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}

	start := time.Now()
	verdict, err := s.engine.ValidateDocument(r.Context(), req.Text, req.Jurisdiction)
	if err != nil {
		s.logger.Error("Document validation failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.String("jurisdiction", req.Jurisdiction),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	s.broadcast(websocket.EventTypeCheck, getRequestID(r.Context()), websocket.CheckEvent{
		RequestID:    getRequestID(r.Context()),
		Jurisdiction: req.Jurisdiction,
		Compliant:    verdict.OverallCompliant,
		Violations:   len(verdict.RuleViolations),
		AIReviewed:   verdict.AIReviewed,
		ProcessingMS: durationMS(time.Since(start)),
	})
	writeJSON(w, http.StatusOK, verdict)
}

// handleCheck runs the rule check alone, without AI review
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if strings.TrimSpace(req.Jurisdiction) == "" {
		writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}

	start := time.Now()
	result, err := s.engine.CheckCompliance(r.Context(), req.Text, req.Jurisdiction)
	if err != nil {
		s.logger.Error("Compliance check failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.String("jurisdiction", req.Jurisdiction),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "compliance check failed")
		return
	}

	s.broadcast(websocket.EventTypeCheck, getRequestID(r.Context()), websocket.CheckEvent{
		RequestID:    getRequestID(r.Context()),
		Jurisdiction: req.Jurisdiction,
		Compliant:    result.Compliant,
		Violations:   len(result.Violations),
		ProcessingMS: durationMS(time.Since(start)),
	})
	writeJSON(w, http.StatusOK, result)
}

// handleScan runs the sensitive-data scan and returns the findings
// plus the masked copy
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	start := time.Now()
	report := s.engine.Scan(req.Text)

	s.broadcast(websocket.EventTypeSensitiveData, getRequestID(r.Context()), websocket.SensitiveDataEvent{
		RequestID:    getRequestID(r.Context()),
		Count:        report.Count,
		Categories:   matchedCategories(report.Matches),
		Masked:       report.Count > 0,
		ProcessingMS: durationMS(time.Since(start)),
	})
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalyzeContract(w http.ResponseWriter, r *http.Request) {
	if s.reviewer == nil {
		writeError(w, http.StatusServiceUnavailable, "ai review is disabled")
		return
	}
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if strings.TrimSpace(req.Jurisdiction) == "" {
		writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}

	start := time.Now()
	analysis, err := s.reviewer.AnalyzeContract(r.Context(), req.Text, req.Jurisdiction)
	duration := time.Since(start)
	s.engine.RecordAIReview(ai.OpContractAnalysis, err, analysis != nil && analysis.Degraded, duration)
	if err != nil {
		s.logger.Error("Contract analysis failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.Error(err))
		writeError(w, aiErrorStatus(err), "contract analysis failed")
		return
	}

	s.broadcastAIReview(r, ai.OpContractAnalysis, analysis.Degraded, req.Jurisdiction, duration)
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if s.reviewer == nil {
		writeError(w, http.StatusServiceUnavailable, "ai review is disabled")
		return
	}
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if strings.TrimSpace(req.Jurisdiction) == "" {
		writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}

	start := time.Now()
	result, err := s.reviewer.Research(r.Context(), req.Query, req.Jurisdiction)
	duration := time.Since(start)
	s.engine.RecordAIReview(ai.OpLegalResearch, err, result != nil && result.Degraded, duration)
	if err != nil {
		s.logger.Error("Legal research failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.Error(err))
		writeError(w, aiErrorStatus(err), "legal research failed")
		return
	}

	s.broadcastAIReview(r, ai.OpLegalResearch, result.Degraded, req.Jurisdiction, duration)
	writeJSON(w, http.StatusOK, result)
}

// handleAssessRisk runs the AI risk assessment folded with the
// deterministic sensitive-data scan
func (s *Server) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	start := time.Now()
	result, err := s.engine.AssessRisk(r.Context(), req.Text)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, compliance.ErrAIDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("Risk assessment failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.Error(err))
		writeError(w, aiErrorStatus(err), "risk assessment failed")
		return
	}

	s.broadcastAIReview(r, ai.OpRiskAssessment, result.Degraded, "", duration)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	all := s.store.All()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(all),
		"rules": all,
	})
}

func (s *Server) handleListJurisdictionRules(w http.ResponseWriter, r *http.Request) {
	jurisdiction := mux.Vars(r)["jurisdiction"]
	ruleSet, err := s.engine.RulesFor(r.Context(), jurisdiction)
	if err != nil {
		s.logger.Error("Rule lookup failed",
			zap.String("jurisdiction", jurisdiction),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jurisdiction": jurisdiction,
		"count":        len(ruleSet),
		"rules":        ruleSet,
	})
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req upsertRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	rule := rules.Rule{
		Jurisdiction: strings.TrimSpace(req.Jurisdiction),
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Pattern:      req.Pattern,
		Severity:     rules.NormalizeSeverity(req.Severity),
		Active:       active,
	}
	if rule.Pattern != "" {
		if _, err := regexp.Compile("(?i)" + rule.Pattern); err != nil {
			writeError(w, http.StatusBadRequest, "invalid pattern: "+err.Error())
			return
		}
	}

	if err := s.store.Upsert(rule); err != nil {
		var vErr *rules.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store rule")
		return
	}

	if s.db != nil {
		if err := s.db.Save(r.Context(), rule); err != nil {
			s.logger.Warn("Failed to persist rule",
				zap.String("jurisdiction", rule.Jurisdiction),
				zap.String("rule", rule.Name),
				zap.Error(err))
		}
	}
	s.updateActiveRuleGauges()

	stored, _ := s.store.Find(rule.Jurisdiction, rule.Name)
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req toggleRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Jurisdiction == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "jurisdiction and name are required")
		return
	}

	if err := s.store.SetActive(req.Jurisdiction, req.Name, req.Active); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if s.db != nil {
		if rule, ok := s.store.Find(req.Jurisdiction, req.Name); ok {
			if err := s.db.Save(r.Context(), rule); err != nil {
				s.logger.Warn("Failed to persist rule toggle",
					zap.String("rule", req.Name),
					zap.Error(err))
			}
		}
	}
	if s.trail != nil {
		s.trail.Record(audit.Event{
			Type:         audit.EventRuleToggle,
			Jurisdiction: req.Jurisdiction,
			Detail:       fmt.Sprintf("%s active=%t", req.Name, req.Active),
			Count:        1,
		})
	}
	s.updateActiveRuleGauges()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jurisdiction": req.Jurisdiction,
		"name":         req.Name,
		"active":       req.Active,
	})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jurisdiction, name := vars["jurisdiction"], vars["name"]

	if err := s.store.Delete(jurisdiction, name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if s.db != nil {
		if err := s.db.Delete(r.Context(), jurisdiction, name); err != nil {
			s.logger.Warn("Failed to delete persisted rule",
				zap.String("jurisdiction", jurisdiction),
				zap.String("rule", name),
				zap.Error(err))
		}
	}
	s.updateActiveRuleGauges()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	applied, err := s.loader.Reload(r.Context())
	if err != nil {
		s.logger.Error("Rule reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": applied})
}

// handleImportRules accepts a rule document in the request body and
// applies it record by record
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	applied, err := s.loader.LoadString(r.Context(), string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": applied})
}

// handleInvalidateCache drops cached compliance results. Without a
// jurisdiction in the body, everything goes, including the AI result
// tier.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	scope := "all"
	if req.Jurisdiction != "" {
		s.memCache.Invalidate(req.Jurisdiction)
		scope = req.Jurisdiction
	} else {
		s.memCache.InvalidateAll()
		if s.aiCache != nil {
			if err := s.aiCache.Clear(r.Context()); err != nil {
				s.logger.Warn("AI result cache clear failed", zap.Error(err))
			}
		}
	}

	if s.trail != nil {
		s.trail.Record(audit.Event{
			Type:         audit.EventCacheFlush,
			Jurisdiction: req.Jurisdiction,
			Detail:       scope,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invalidated": scope})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"memory": s.memCache.GetStats(),
	}
	if s.aiCache != nil {
		if redisStats, err := s.aiCache.GetStats(r.Context()); err == nil {
			response["ai_results"] = redisStats
		} else {
			s.logger.Warn("AI result cache stats failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		writeError(w, http.StatusServiceUnavailable, "audit trail is disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events := s.trail.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"total":  s.trail.Total(),
		"events": events,
	})
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "audit export is disabled")
		return
	}
	path, count, err := s.exporter.Export()
	if err != nil {
		s.logger.Error("Audit export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":   path,
		"events": count,
	})
}

func (s *Server) broadcastAIReview(r *http.Request, op ai.Operation, degraded bool, jurisdiction string, duration time.Duration) {
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	s.broadcast(websocket.EventTypeAIReview, getRequestID(r.Context()), websocket.AIReviewEvent{
		RequestID:    getRequestID(r.Context()),
		Operation:    string(op),
		Outcome:      outcome,
		Jurisdiction: jurisdiction,
		DurationMS:   durationMS(duration),
	})
}

func (s *Server) broadcast(eventType websocket.EventType, requestID string, data interface{}) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Data:      data,
	})
}

// aiErrorStatus maps an AI failure to the upstream-facing status code
func aiErrorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func matchedCategories(matches []privacy.SensitiveMatch) []string {
	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, m := range matches {
		if _, ok := seen[m.Category]; ok {
			continue
		}
		seen[m.Category] = struct{}{}
		categories = append(categories, m.Category)
	}
	return categories
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
