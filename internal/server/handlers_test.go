package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/compliance-sentinel/internal/ai"
	"github.com/raaihank/compliance-sentinel/internal/compliance"
	"github.com/raaihank/compliance-sentinel/internal/config"
	"github.com/raaihank/compliance-sentinel/internal/logger"
	"github.com/raaihank/compliance-sentinel/internal/rules"
)

const stubSummary = "Stub backend response. Configure a real AI provider for live analysis."

const fixtureRules = `{
  "metadata": {"version": "1.0", "lastUpdated": "2025-01-01"},
  "rules": [
    {
      "jurisdiction": "EU",
      "ruleName": "GDPR_EMAIL",
      "description": "Unmasked email address",
      "regexPattern": "[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\\.[a-zA-Z]{2,}",
      "severity": "HIGH"
    }
  ]
}`

// newTestServer builds a full pipeline against a temp rule file, with
// the stub AI backend and every external tier disabled.
func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(fixtureRules), 0o644))

	cfg := config.GetDefaults()
	cfg.Rules.Path = rulesPath
	cfg.Rules.Watch = false
	cfg.AI.Provider = "stub"
	cfg.AI.MaxRetries = 1
	cfg.AI.Timeout = 2 * time.Second
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(srv.memCache.Stop)

	_, err = srv.loader.LoadFile(context.Background(), rulesPath)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeMap(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "compliance-sentinel", body["service"])
	assert.Equal(t, float64(1), body["rules_loaded"])
	assert.Equal(t, true, body["ai_enabled"])
}

func TestHandleCheck_FindsViolation(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/check", `{"text": "Contact: a@b.com", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result compliance.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "EU", result.Jurisdiction)
	assert.False(t, result.Compliant)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "GDPR_EMAIL", result.Violations[0].RuleName)
	assert.Equal(t, "a@b.com", result.Violations[0].MatchedText)
	assert.Equal(t, "HIGH", result.Violations[0].Severity)
}

func TestHandleCheck_CleanDocument(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/check", `{"text": "This agreement covers data processing terms.", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result compliance.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Compliant)
	assert.Empty(t, result.Violations)
}

func TestHandleCheck_RejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing text", `{"jurisdiction": "EU"}`, "text is required"},
		{"missing jurisdiction", `{"text": "hello"}`, "jurisdiction is required"},
		{"malformed json", `{"text": `, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/v1/check", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeMap(t, rec)["error"], tt.wantErr)
		})
	}
}

func TestHandleScan(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/scan", `{"text": "Email a@b.com card 4111-1111-1111-1111"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report compliance.ScanReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Count)
	assert.Contains(t, report.MaskedText, "[EMAIL_REDACTED]")
	assert.Contains(t, report.MaskedText, "[CC_REDACTED]")
	assert.NotContains(t, report.MaskedText, "a@b.com")
	assert.NotContains(t, report.MaskedText, "4111-1111-1111-1111")

	rec = doRequest(srv, http.MethodPost, "/v1/scan", `{"text": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleValidate(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/validate", `{"text": "Contact: a@b.com", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var verdict compliance.ComplianceVerdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.True(t, verdict.AIReviewed)
	assert.False(t, verdict.AIDegraded)
	assert.False(t, verdict.OverallCompliant)
	require.Len(t, verdict.RuleViolations, 1)
	assert.Equal(t, "GDPR_EMAIL", verdict.RuleViolations[0].RuleName)
	assert.Equal(t, stubSummary, verdict.Summary)
	require.Len(t, verdict.Fails, 1)
	assert.Equal(t, "GDPR_EMAIL", verdict.Fails[0].Requirement)
}

func TestHandleAssessRisk(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("sensitive data folds into the assessment", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/v1/risk", `{"text": "Contact: a@b.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var result ai.RiskAssessment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 5, result.OverallRiskScore)
		require.Len(t, result.RiskCategories, 1)
		assert.Equal(t, "Data Protection", result.RiskCategories[0].Category)
		assert.Equal(t, 1, result.RiskCategories[0].Score)
		assert.Contains(t, result.RiskCategories[0].Details, "Detected 1")
	})

	t.Run("clean document", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/v1/risk", `{"text": "Plain agreement text."}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var result ai.RiskAssessment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 5, result.OverallRiskScore)
		assert.Empty(t, result.RiskCategories)
	})

	t.Run("missing text", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/v1/risk", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleAssessRisk_AIDisabled(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.AI.Enabled = false
	})

	rec := doRequest(srv, http.MethodPost, "/v1/risk", `{"text": "hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAnalyzeContract(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/analyze/contract", `{"text": "The party shall indemnify the vendor.", "jurisdiction": "US"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var analysis ai.ContractAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	assert.Equal(t, stubSummary, analysis.Summary)
	assert.Equal(t, "US", analysis.Jurisdiction)
	assert.False(t, analysis.Degraded)
}

func TestHandleResearch(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/research", `{"query": "data retention limits", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ai.ResearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, stubSummary, result.Summary)
	assert.Equal(t, "data retention limits", result.Query)
	assert.Equal(t, "EU", result.Jurisdiction)

	rec = doRequest(srv, http.MethodPost, "/v1/research", `{"jurisdiction": "EU"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "query is required")
}

func TestAdminRuleLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	// Add a second rule.
	rec := doRequest(srv, http.MethodPost, "/admin/rules",
		`{"jurisdiction": "EU", "name": "GDPR_CONSENT", "description": "Missing consent language", "pattern": "without (explicit )?consent", "severity": "high"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored rules.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "GDPR_CONSENT", stored.Name)
	assert.Equal(t, "HIGH", stored.Severity)
	assert.True(t, stored.Active)
	assert.False(t, stored.CreatedAt.IsZero())

	// The new rule participates in checks immediately.
	rec = doRequest(srv, http.MethodPost, "/v1/check", `{"text": "Data is shared without consent.", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result compliance.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Compliant)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "GDPR_CONSENT", result.Violations[0].RuleName)

	// Listings see both rules.
	rec = doRequest(srv, http.MethodGet, "/admin/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeMap(t, rec)["count"])

	rec = doRequest(srv, http.MethodGet, "/admin/rules/EU", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "EU", body["jurisdiction"])
	assert.Equal(t, float64(2), body["count"])

	// Deactivating a rule takes effect on the next check.
	rec = doRequest(srv, http.MethodPost, "/admin/rules/toggle", `{"jurisdiction": "EU", "name": "GDPR_EMAIL", "active": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/v1/check", `{"text": "Contact: a@b.com", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Compliant)

	// Delete is idempotent only the first time.
	rec = doRequest(srv, http.MethodDelete, "/admin/rules/EU/GDPR_CONSENT", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(srv, http.MethodDelete, "/admin/rules/EU/GDPR_CONSENT", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/admin/rules/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats rules.RuleStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalRules)
	assert.Equal(t, 0, stats.ActiveRules)
	assert.Equal(t, 1, stats.InactiveRules)
}

func TestAdminUpsertRule_Validation(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/admin/rules",
		`{"jurisdiction": "EU", "name": "BROKEN", "pattern": "(unclosed"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "invalid pattern")

	rec = doRequest(srv, http.MethodPost, "/admin/rules", `{"jurisdiction": "EU", "pattern": "x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "name")
}

func TestAdminToggleRule_Validation(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/admin/rules/toggle", `{"jurisdiction": "EU", "name": "NO_SUCH_RULE", "active": false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/admin/rules/toggle", `{"name": "GDPR_EMAIL", "active": false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminReloadAndImport(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/admin/rules/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeMap(t, rec)["applied"])

	importDoc := `{
  "metadata": {"version": "1.1", "lastUpdated": "2025-02-01"},
  "rules": [
    {
      "jurisdiction": "US-CA",
      "ruleName": "CCPA_SALE_OPTOUT",
      "description": "Sale of personal information without opt-out",
      "regexPattern": "sell(ing)? personal information",
      "severity": "HIGH"
    }
  ]
}`
	rec = doRequest(srv, http.MethodPost, "/admin/rules/import", importDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeMap(t, rec)["applied"])

	rec = doRequest(srv, http.MethodPost, "/v1/check", `{"text": "We may sell personal information to partners.", "jurisdiction": "US-CA"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result compliance.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "CCPA_SALE_OPTOUT", result.Violations[0].RuleName)

	rec = doRequest(srv, http.MethodPost, "/admin/rules/import", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "request body is required")
}

func TestAdminCacheEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	checkBody := `{"text": "Contact: a@b.com", "jurisdiction": "EU"}`
	doRequest(srv, http.MethodPost, "/v1/check", checkBody)
	doRequest(srv, http.MethodPost, "/v1/check", checkBody)

	rec := doRequest(srv, http.MethodGet, "/admin/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	memory, ok := body["memory"].(map[string]interface{})
	require.True(t, ok, "memory stats missing")
	assert.GreaterOrEqual(t, memory["hits"].(float64), float64(1))
	_, hasRedisTier := body["ai_results"]
	assert.False(t, hasRedisTier, "redis tier should be absent when disabled")

	rec = doRequest(srv, http.MethodPost, "/admin/cache/invalidate", `{"jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EU", decodeMap(t, rec)["invalidated"])

	rec = doRequest(srv, http.MethodPost, "/admin/cache/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all", decodeMap(t, rec)["invalidated"])
}

func TestAdminAuditTrail(t *testing.T) {
	srv := newTestServer(t, nil)
	doRequest(srv, http.MethodPost, "/v1/check", `{"text": "Contact: a@b.com", "jurisdiction": "EU"}`)

	rec := doRequest(srv, http.MethodGet, "/admin/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	events, ok := body["events"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, events)
	assert.GreaterOrEqual(t, body["total"].(float64), body["count"].(float64))

	rec = doRequest(srv, http.MethodGet, "/admin/audit?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeMap(t, rec)["count"])

	for _, bad := range []string{"0", "-2", "abc"} {
		rec = doRequest(srv, http.MethodGet, "/admin/audit?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}

func TestAdminAuditExport(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := doRequest(srv, http.MethodPost, "/admin/audit/export", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, decodeMap(t, rec)["error"], "audit export is disabled")
	})

	t.Run("enabled", func(t *testing.T) {
		dir := t.TempDir()
		srv := newTestServer(t, func(c *config.Config) {
			c.Audit.Export.Enabled = true
			c.Audit.Export.Directory = dir
		})
		doRequest(srv, http.MethodPost, "/v1/check", `{"text": "Contact: a@b.com", "jurisdiction": "EU"}`)

		rec := doRequest(srv, http.MethodPost, "/admin/audit/export", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeMap(t, rec)
		assert.GreaterOrEqual(t, body["events"].(float64), float64(1))

		path, ok := body["path"].(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(path, dir))
		_, err := os.Stat(path)
		assert.NoError(t, err)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	doRequest(srv, http.MethodPost, "/v1/check", `{"text": "hello", "jurisdiction": "EU"}`)

	rec := doRequest(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, "sentinel_rule_loads_total")
	assert.Contains(t, out, "sentinel_compliance_checks_total")
	assert.Contains(t, out, "sentinel_http_requests_total")
	assert.Contains(t, out, "go_goroutines")
}

func TestRateLimiting(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerMinute = 60
		c.RateLimit.Burst = 1
	})

	rec := doRequest(srv, http.MethodPost, "/v1/check", `{"text": "hello", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/v1/check", `{"text": "hello", "jurisdiction": "EU"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, decodeMap(t, rec)["error"], "rate limit exceeded")

	// Operational endpoints bypass the limiter.
	rec = doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketEndpointRequiresAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/v1/check", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))

	rec = doRequest(srv, http.MethodGet, "/healthz", "")
	generated := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, "req-abc", generated)
}

func TestGetRequestID_Fallback(t *testing.T) {
	assert.Equal(t, "unknown", getRequestID(context.Background()))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"forwarded chain", "192.0.2.1:1234", "10.0.0.1, 192.168.1.1", "", "10.0.0.1"},
		{"forwarded wins over real ip", "192.0.2.1:1234", "10.0.0.1", "172.16.0.5", "10.0.0.1"},
		{"real ip", "192.0.2.1:1234", "", "172.16.0.5", "172.16.0.5"},
		{"remote addr", "192.0.2.7:9999", "", "", "192.0.2.7"},
		{"remote addr without port", "badaddr", "", "", "badaddr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestDurationMS(t *testing.T) {
	assert.Equal(t, 1.5, durationMS(1500*time.Microsecond))
	assert.Equal(t, float64(0), durationMS(0))
}
