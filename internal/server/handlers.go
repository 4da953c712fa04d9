package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/contract"
	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/estimator"
	"github.com/raaihank/dq-sentinel/internal/lineage"
	"github.com/raaihank/dq-sentinel/internal/risk"
	"github.com/raaihank/dq-sentinel/internal/weights"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps configuration errors to 400 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if dqerr.IsConfiguration(err) {
		status = http.StatusBadRequest
	} else {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return dqerr.Config("body", "request body exceeds %d bytes", tooLarge.Limit)
		}
		return dqerr.Config("body", "invalid JSON: %v", err)
	}
	return nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type infoResponse struct {
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	Rules     catalog.Summary `json:"rules"`
	RuleTypes int             `json:"rule_types"`
	Presets   int             `json:"presets"`
	Learning  string          `json:"learning_backend"`
	WebSocket *wsInfo         `json:"websocket,omitempty"`
}

type wsInfo struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalBroadcasts   int64 `json:"total_broadcasts"`
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := infoResponse{
		Name:      "dq-sentinel",
		Version:   Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Rules:     s.catalog.Summary(),
		RuleTypes: len(s.catalog.RuleTypes()),
		Presets:   len(weights.Presets()),
		Learning:  s.config.Learning.Backend,
	}
	if s.wsHub != nil {
		stats := s.wsHub.GetStats()
		resp.WebSocket = &wsInfo{ActiveConnections: stats.ActiveConnections, TotalBroadcasts: stats.TotalBroadcasts}
	}
	writeJSON(w, http.StatusOK, resp)
}

type rulesResponse struct {
	Count int            `json:"count"`
	Rules []catalog.Rule `json:"rules"`
}

// handleListRules lists catalog rules, optionally filtered by dimension and rule type
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var list []catalog.Rule
	if d := q.Get("dimension"); d != "" {
		dim, err := catalog.ParseDimension(d)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		list = s.catalog.GetByDimension(dim)
	} else {
		list = s.catalog.Rules()
	}

	if rt := q.Get("rule_type"); rt != "" {
		if _, ok := s.catalog.RuleType(rt); !ok {
			s.writeError(w, r, dqerr.Config("rule_type", "unknown rule type %q", rt))
			return
		}
		filtered := list[:0:0]
		for _, rule := range list {
			if rule.RuleType == rt {
				filtered = append(filtered, rule)
			}
		}
		list = filtered
	}

	if list == nil {
		list = []catalog.Rule{}
	}
	writeJSON(w, http.StatusOK, rulesResponse{Count: len(list), Rules: list})
}

type importRequest struct {
	Rules []catalog.RuleRecord `json:"rules"`
}

type importResponse struct {
	Imported int `json:"imported"`
	Total    int `json:"total"`
}

// handleImportRules adds rules from a CSV body (text/csv) or a JSON {"rules": [...]} body.
// The import is atomic.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	var records []catalog.RuleRecord

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		var err error
		records, err = catalog.ReadRecordsCSV(io.LimitReader(r.Body, s.config.Server.MaxBodyBytes))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		var req importRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		records = req.Rules
	}

	if len(records) == 0 {
		s.writeError(w, r, dqerr.Config("rules", "no rules to import"))
		return
	}
	if err := s.catalog.ImportRules(records); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Rules imported",
		zap.Int("imported", len(records)))
	writeJSON(w, http.StatusCreated, importResponse{Imported: len(records), Total: s.catalog.Summary().Total})
}

// handlePresets lists the built-in usage presets
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": weights.Presets()})
}

type ahpRequest struct {
	Comparisons []weights.Comparison `json:"comparisons"`
}

// handleAHP elicits weights from pairwise comparisons
func (s *Server) handleAHP(w http.ResponseWriter, r *http.Request) {
	var req ahpRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := weights.ComputeFromComparisons(req.Comparisons)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// analyzeRequest is an analysis request carrying its dataset inline.
type analyzeRequest struct {
	analysis.Request
	Records []map[string]any `json:"records"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, forceContract bool) (*analysis.Report, bool) {
	var req analyzeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if req.Records == nil {
		s.writeError(w, r, dqerr.Config("records", "records are required"))
		return nil, false
	}
	if forceContract {
		req.Contract = true
	}

	report, err := s.analyzer.Analyze(r.Context(), dataset.FromRecords(req.Records), req.Request)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return report, true
}

// handleAnalyze runs a full analysis over an inline dataset
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	report, ok := s.analyze(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleContract scans an inline dataset and returns its quality contract,
// as YAML unless ?format=json.
func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	format := contract.FormatYAML
	if f := r.URL.Query().Get("format"); f != "" {
		var err error
		if format, err = contract.ParseFormat(f); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	report, ok := s.analyze(w, r, true)
	if !ok {
		return
	}
	body, err := report.Contract.Render(format)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("failed to render contract: %w", err))
		return
	}

	contentType := "application/yaml"
	if format == contract.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type lineageRequest struct {
	Source map[string]float64 `json:"source"`
	Stages []lineage.Stage    `json:"stages,omitempty"`
	Tier   string             `json:"tier,omitempty"`
	Usages []string           `json:"usages,omitempty"`
}

type lineageUsage struct {
	Usage         string        `json:"usage"`
	SourceScore   float64       `json:"source_score"`
	FinalScore    float64       `json:"final_score"`
	FinalSeverity risk.Severity `json:"final_severity"`
	Delta         lineage.Delta `json:"delta"`
}

type lineageResponse struct {
	Simulation *lineage.Simulation `json:"simulation"`
	Usages     []lineageUsage      `json:"usages,omitempty"`
}

// handleSimulateLineage propagates a probability vector through a pipeline
func (s *Server) handleSimulateLineage(w http.ResponseWriter, r *http.Request) {
	var req lineageRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Source) == 0 {
		s.writeError(w, r, dqerr.Config("source", "source probabilities are required"))
		return
	}

	source := make(map[catalog.Dimension]float64, len(req.Source))
	for key, p := range req.Source {
		dim, err := catalog.ParseDimension(key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		source[dim] = p
	}

	stages := req.Stages
	if len(stages) == 0 {
		stages = lineage.DefaultPipeline()
	}
	stages, err := lineage.NormalizeStages(stages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tierName := req.Tier
	if tierName == "" {
		tierName = s.config.Estimator.ReestimationTier
	}
	tier, err := estimator.ParseTier(tierName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sim, err := lineage.SimulatePipeline(source, stages, tier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := lineageResponse{Simulation: sim}
	for _, usage := range req.Usages {
		p, err := weights.GetPreset(usage)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		before := risk.ScoreExpectations(sim.Source, p.Weights)
		after := risk.Score(sim.FinalVector, p.Weights)
		resp.Usages = append(resp.Usages, lineageUsage{
			Usage:         usage,
			SourceScore:   before,
			FinalScore:    after,
			FinalSeverity: risk.Classify(after),
			Delta:         lineage.RiskDelta(before, after),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
