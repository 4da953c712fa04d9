package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/config"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/logger"
	"github.com/raaihank/dq-sentinel/internal/rules"
	"github.com/raaihank/dq-sentinel/internal/scanner"
	"github.com/raaihank/dq-sentinel/internal/weights"
	"github.com/raaihank/dq-sentinel/internal/websocket"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *catalog.Catalog) {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	def, err := catalog.DefaultDefinition()
	require.NoError(t, err)
	cat, err := catalog.Load(context.Background(), def, rules.NewRegistry(), learning.NewMemoryStore(nil), zap.NewNop())
	require.NoError(t, err)

	hub := websocket.NewHub(&cfg.WebSocket.Events, zap.NewNop())
	sc := scanner.New(cat, cfg.ScannerConfig(), zap.NewNop())
	ac, err := cfg.AnalysisConfig()
	require.NoError(t, err)
	an := analysis.New(sc, cat, hub, ac, zap.NewNop())

	s, err := New(cfg, Dependencies{Catalog: cat, Analyzer: an, Hub: hub}, logger.Nop())
	require.NoError(t, err)
	return s, cat
}

func do(t *testing.T, s *Server, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

const employeesBody = `{
  "name": "employees",
  "budget": "deep",
  "usages": ["regulatory_payroll"],
  "records": [
    {"id": "1", "email": "ana@corp.io", "salary": "3200", "age": "34"},
    {"id": "2", "email": "bob@corp", "salary": "-10", "age": "29"},
    {"id": "2", "email": null, "salary": "4100", "age": "131"}
  ]
}`

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(config.GetDefaults(), Dependencies{}, logger.Nop())
	assert.Error(t, err)
}

func TestHealthAndInfo(t *testing.T) {
	s, cat := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/info", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info infoResponse
	decodeBody(t, rec, &info)
	assert.Equal(t, "dq-sentinel", info.Name)
	assert.Equal(t, cat.Summary().Total, info.Rules.Total)
	assert.Equal(t, len(weights.Presets()), info.Presets)
	require.NotNil(t, info.WebSocket)
}

func TestListRules(t *testing.T) {
	s, cat := newTestServer(t, nil)

	t.Run("All", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/v1/rules", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp rulesResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, cat.Summary().Total, resp.Count)
	})

	t.Run("ByDimensionAndType", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/v1/rules?dimension=db&rule_type=null_check", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp rulesResponse
		decodeBody(t, rec, &resp)
		require.NotZero(t, resp.Count)
		for _, r := range resp.Rules {
			assert.Equal(t, catalog.DB, r.Dimension)
			assert.Equal(t, "null_check", r.RuleType)
		}
	})

	t.Run("BadFilters", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/rules?dimension=XX", "", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/rules?rule_type=nope", "", "").Code)
	})
}

func TestImportRules(t *testing.T) {
	s, cat := newTestServer(t, nil)
	before := cat.Summary().Total

	body := `{"rules": [{"id": "HR#1", "dimension": "BR", "name": "Age", "criticality": "HIGH", "detection_mode": "Auto", "rule_type": "range", "role": "age"}]}`
	rec := do(t, s, http.MethodPost, "/v1/rules/import", "application/json", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp importResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Imported)
	assert.Equal(t, before+1, resp.Total)

	// duplicate ids are rejected atomically
	rec = do(t, s, http.MethodPost, "/v1/rules/import", "application/json", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	csv := "id,dimension,criticality,detection_mode,rule_type\nHR#2,DB,LOW,Manual,null_check\n"
	rec = do(t, s, http.MethodPost, "/v1/rules/import", "text/csv; charset=utf-8", csv)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, ok := cat.Get("HR#2")
	assert.True(t, ok)

	short := `{"rules": [{"id": "HR#3", "dimension": "DB", "criticality": "LOW", "detection": "Auto", "ruleType": "null_check"}]}`
	rec = do(t, s, http.MethodPost, "/v1/rules/import", "application/json", short)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	csv = "id,dimension,name,criticality,detection,ruleType\nHR#4,DB,Extra nulls,HIGH,Auto,null_check\n"
	rec = do(t, s, http.MethodPost, "/v1/rules/import", "text/csv", csv)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	r, ok := cat.Get("HR#4")
	require.True(t, ok)
	assert.Equal(t, catalog.Auto, r.DetectionMode)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/rules/import", "application/json", `{"rules": []}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/rules/import", "application/json", `{`).Code)
}

func TestPresetsAndAHP(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/v1/presets", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var presets struct {
		Presets []weights.Preset `json:"presets"`
	}
	decodeBody(t, rec, &presets)
	assert.Len(t, presets.Presets, len(weights.Presets()))

	rec = do(t, s, http.MethodPost, "/v1/weights/ahp", "application/json",
		`{"comparisons": [{"a": "DB", "b": "UP", "score": 5}, {"a": "DP", "b": "UP", "score": 3}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res weights.AHPResult
	decodeBody(t, rec, &res)
	assert.InDelta(t, 1.0, res.Weights.Sum(), weights.SumTolerance)
	assert.Greater(t, res.Weights.DB, res.Weights.UP)

	rec = do(t, s, http.MethodPost, "/v1/weights/ahp", "application/json", `{"comparisons": [{"a": "DB", "b": "DB", "score": 2}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/analyze", "application/json", employeesBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report analysis.Report
	decodeBody(t, rec, &report)
	assert.Equal(t, 3, report.Rows)
	assert.Equal(t, "employees", report.Name)
	require.Len(t, report.Usages, 1)
	assert.Equal(t, "regulatory_payroll", report.Usages[0].Usage)
	assert.Len(t, report.Vector, 4)

	tests := []struct {
		name string
		body string
	}{
		{"NoRecords", `{"usages": ["audit"]}`},
		{"BadBudget", `{"budget": "huge", "records": [{"a": 1}]}`},
		{"UnknownUsage", `{"usages": ["marketing"], "records": [{"a": 1}]}`},
		{"Malformed", `{"records": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/analyze", "application/json", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var e errorResponse
			decodeBody(t, rec, &e)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestAnalyzeBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })
	rec := do(t, s, http.MethodPost, "/v1/analyze", "application/json", employeesBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds")
}

func TestContract(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/contract", "application/json", employeesBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "DataContract", doc["kind"])
	assert.Equal(t, "employees", doc["id"])

	rec = do(t, s, http.MethodPost, "/v1/contract?format=json", "application/json", employeesBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	decodeBody(t, rec, &doc)
	assert.NotEmpty(t, doc["quality"])

	rec = do(t, s, http.MethodPost, "/v1/contract?format=xml", "application/json", employeesBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulateLineage(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{
	  "source": {"db": 0.02, "DP": 0.069, "BR": 0.01, "UP": 0.05},
	  "stages": [{"name": "cast", "increments": {"dp": 0.05}}],
	  "usages": ["regulatory_payroll"]
	}`
	rec := do(t, s, http.MethodPost, "/v1/lineage/simulate", "application/json", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp lineageResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Simulation)
	assert.InDelta(t, 1-(1-0.069)*(1-0.05), resp.Simulation.Final[catalog.DP], 1e-9)
	assert.InDelta(t, 0.02, resp.Simulation.Final[catalog.DB], 1e-12)
	require.Len(t, resp.Usages, 1)
	assert.Greater(t, resp.Usages[0].FinalScore, resp.Usages[0].SourceScore)

	rec = do(t, s, http.MethodPost, "/v1/lineage/simulate", "application/json", `{"source": {"DP": 0.1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Simulation.History, 5)

	for _, bad := range []string{
		`{}`,
		`{"source": {"XX": 0.1}}`,
		`{"source": {"DP": 0.1}, "tier": "ULTRA"}`,
		`{"source": {"DP": 0.1}, "stages": [{"name": "s", "increments": {"DP": 2}}]}`,
		`{"source": {"DP": 1.5}}`,
	} {
		rec := do(t, s, http.MethodPost, "/v1/lineage/simulate", "application/json", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1, IdleTTL: time.Hour}
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/presets", "", "").Code)
	rec := do(t, s, http.MethodGet, "/v1/presets", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// health checks bypass the API limiter
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/v1/analyze", "application/json", employeesBody)

	rec := do(t, s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dq_analysis_runs_total")
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Clients())

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Minute)
	rl.Allow("b")
	rl.CleanupIdle()
	assert.Equal(t, 1, rl.Clients())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil))
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", clientIP(r))
}
