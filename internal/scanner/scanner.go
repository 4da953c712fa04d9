// Package scanner runs prioritized, budget-bounded rule scans per quality dimension.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/metrics"
	"github.com/raaihank/dq-sentinel/internal/rules"
)

// Catalog is the subset of the rule catalog the scanner depends on.
type Catalog interface {
	AutoRules(dim catalog.Dimension) []catalog.Rule
	RuleType(name string) (*catalog.RuleType, bool)
	RecordScan(id string, detected bool) error
}

// Status is the outcome of one rule in a scan.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusClean         Status = "clean"
	StatusSkipped       Status = "skipped"
	StatusNotApplicable Status = "not_applicable"
)

// RuleOutcome reports what happened to one selected rule.
type RuleOutcome struct {
	RuleID       string        `json:"rule_id"`
	RuleType     string        `json:"rule_type"`
	Priority     float64       `json:"priority"`
	Status       Status        `json:"status"`
	AffectedRows int           `json:"affected_rows"`
	Error        string        `json:"error,omitempty"`
	Params       rules.Params  `json:"params,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ScanResult summarizes a scan of one dimension.
type ScanResult struct {
	Dimension          catalog.Dimension `json:"dimension"`
	Budget             Budget            `json:"budget"`
	RulesScanned       int               `json:"rules_scanned"`
	RulesDetected      []string          `json:"rules_detected"`
	RulesSkipped       []string          `json:"rules_skipped"`
	RulesNotApplicable []string          `json:"rules_not_applicable"`
	Outcomes           []RuleOutcome     `json:"outcomes"`
	TotalAffectedRows  int               `json:"total_affected_rows"`
	TotalRows          int               `json:"total_rows"`
	ErrorRate          float64           `json:"error_rate"`
	Duration           time.Duration     `json:"duration"`
}

// Config contains scanner configuration
type Config struct {
	Limits BudgetLimits `yaml:"limits" mapstructure:"limits"`
	// CountSkippedAsScanned records failed rules as scanned and not detected.
	CountSkippedAsScanned bool `yaml:"count_skipped_as_scanned" mapstructure:"count_skipped_as_scanned"`
}

// DefaultConfig returns the scanner defaults.
func DefaultConfig() Config {
	return Config{Limits: DefaultBudgetLimits(), CountSkippedAsScanned: true}
}

// Scanner selects, runs and records rules for a dimension.
type Scanner struct {
	catalog Catalog
	logger  *zap.Logger

	mu     sync.RWMutex
	config Config
}

// New creates a scanner over cat.
func New(cat Catalog, config Config, logger *zap.Logger) *Scanner {
	return &Scanner{catalog: cat, config: config, logger: logger}
}

// SetLimits replaces the budget limits used by subsequent scans.
func (s *Scanner) SetLimits(limits BudgetLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Limits = limits
	s.logger.Info("Scan budget limits updated",
		zap.Int("quick", limits.Quick),
		zap.Int("standard", limits.Standard))
}

func (s *Scanner) currentConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Plan returns the rules a scan of dim under budget would attempt, in execution order.
func (s *Scanner) Plan(dim catalog.Dimension, budget Budget) []catalog.Rule {
	ranked := Rank(s.catalog.AutoRules(dim))
	if limit := s.currentConfig().Limits.Limit(budget); limit >= 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}

// Scan runs the top rules of dim against ds and returns the dimension error rate.
// Validator failures never abort the scan; the failing rule is reported as skipped.
func (s *Scanner) Scan(ctx context.Context, ds *dataset.Dataset, dim catalog.Dimension, budget Budget, cols ColumnConfig) (*ScanResult, error) {
	if ds == nil {
		return nil, dqerr.Config("dataset", "dataset is nil")
	}
	if _, err := catalog.ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	if _, err := ParseBudget(string(budget)); err != nil {
		return nil, err
	}

	start := time.Now()
	config := s.currentConfig()
	// the plan is fixed here; learning updates during the scan do not reorder it
	plan := s.Plan(dim, budget)

	logger := s.logger.With(
		zap.String("dimension", string(dim)),
		zap.String("budget", string(budget)))
	logger.Debug("Starting dimension scan", zap.Int("planned_rules", len(plan)))

	result := &ScanResult{
		Dimension:          dim,
		Budget:             budget,
		RulesDetected:      []string{},
		RulesSkipped:       []string{},
		RulesNotApplicable: []string{},
		TotalRows:          ds.Len(),
	}
	affected := make(map[int]struct{})

	for _, rule := range plan {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("scan of %s interrupted: %w", dim, ctx.Err())
		default:
		}

		outcome := s.runRule(ds, rule, cols, affected)
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Status {
		case StatusNotApplicable:
			result.RulesNotApplicable = append(result.RulesNotApplicable, rule.ID)
			continue
		case StatusSkipped:
			result.RulesSkipped = append(result.RulesSkipped, rule.ID)
			metrics.ValidatorFailures.WithLabelValues(string(dim)).Inc()
			logger.Warn("Rule skipped after validator failure",
				zap.String("rule_id", rule.ID),
				zap.String("error", outcome.Error))
		case StatusDetected:
			result.RulesDetected = append(result.RulesDetected, rule.ID)
			metrics.RuleDetections.WithLabelValues(string(dim)).Inc()
		}

		result.RulesScanned++
		metrics.RulesScanned.WithLabelValues(string(dim)).Inc()

		if outcome.Status == StatusSkipped && !config.CountSkippedAsScanned {
			continue
		}
		if err := s.catalog.RecordScan(rule.ID, outcome.Status == StatusDetected); err != nil {
			logger.Warn("Failed to record scan", zap.String("rule_id", rule.ID), zap.Error(err))
		}
	}

	result.TotalAffectedRows = len(affected)
	if result.TotalRows > 0 {
		result.ErrorRate = float64(result.TotalAffectedRows) / float64(result.TotalRows)
	}
	result.Duration = time.Since(start)
	metrics.ScanDuration.WithLabelValues(string(dim), string(budget)).Observe(result.Duration.Seconds())

	logger.Info("Dimension scan completed",
		zap.Int("rules_scanned", result.RulesScanned),
		zap.Int("rules_detected", len(result.RulesDetected)),
		zap.Int("rules_skipped", len(result.RulesSkipped)),
		zap.Int("rules_not_applicable", len(result.RulesNotApplicable)),
		zap.Int("affected_rows", result.TotalAffectedRows),
		zap.Float64("error_rate", result.ErrorRate),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// runRule binds and executes one rule, adding its violating rows to affected.
func (s *Scanner) runRule(ds *dataset.Dataset, rule catalog.Rule, cols ColumnConfig, affected map[int]struct{}) RuleOutcome {
	start := time.Now()
	outcome := RuleOutcome{
		RuleID:   rule.ID,
		RuleType: rule.RuleType,
		Priority: PriorityScore(rule),
	}

	rt, ok := s.catalog.RuleType(rule.RuleType)
	if !ok {
		outcome.Status = StatusSkipped
		outcome.Error = fmt.Sprintf("unknown rule type %s", rule.RuleType)
		return outcome
	}

	params, missing := Bind(rule, rt, cols)
	outcome.Params = params
	if missing != "" {
		outcome.Status = StatusNotApplicable
		outcome.Error = "missing parameter " + missing
		return outcome
	}

	rows, err := execute(rt.Impl(), ds, params)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Status = StatusSkipped
		outcome.Error = (&dqerr.ValidatorError{RuleID: rule.ID, Err: err}).Error()
		return outcome
	}

	counted := 0
	for _, i := range rows {
		if i < 0 || i >= ds.Len() {
			continue
		}
		affected[i] = struct{}{}
		counted++
	}
	outcome.AffectedRows = counted
	if counted > 0 {
		outcome.Status = StatusDetected
	} else {
		outcome.Status = StatusClean
	}
	return outcome
}

// Bind resolves the parameters of rule: rule type defaults, then rule
// parameters, then the columns of its role, then per-rule overrides.
// It returns the first required parameter left unbound, if any.
func Bind(rule catalog.Rule, rt *catalog.RuleType, cols ColumnConfig) (rules.Params, string) {
	params := rt.Defaults.Merge(rule.Params)
	if rule.Role != "" {
		if names := cols.Roles[rule.Role]; len(names) > 0 {
			params["columns"] = names
		}
	}
	if override, ok := cols.Overrides[rule.ID]; ok {
		params = params.Merge(override)
	}
	for _, req := range rt.Requires {
		if !params.Has(req) {
			return params, req
		}
	}
	return params, ""
}

// execute runs a validator, converting panics into errors.
func execute(v rules.Validator, ds *dataset.Dataset, params rules.Params) (rows []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("validator panicked: %v", r)
		}
	}()
	if v == nil {
		return nil, fmt.Errorf("rule type has no validator")
	}
	return v.Validate(ds, params)
}

// ScanAll scans several dimensions concurrently. Learned-statistics updates
// are serialized by the catalog.
func (s *Scanner) ScanAll(ctx context.Context, ds *dataset.Dataset, dims []catalog.Dimension, budget Budget, cols ColumnConfig) (map[catalog.Dimension]*ScanResult, error) {
	if len(dims) == 0 {
		dims = catalog.Dimensions
	}

	results := make([]*ScanResult, len(dims))
	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range dims {
		i, dim := i, dim
		g.Go(func() error {
			res, err := s.Scan(gctx, ds, dim, budget, cols)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[catalog.Dimension]*ScanResult, len(dims))
	for i, dim := range dims {
		out[dim] = results[i]
	}
	return out, nil
}

// ErrorRates extracts the per-dimension error rates from scan results.
func ErrorRates(results map[catalog.Dimension]*ScanResult) map[catalog.Dimension]float64 {
	out := make(map[catalog.Dimension]float64, len(results))
	for dim, res := range results {
		out[dim] = res.ErrorRate
	}
	return out
}

// DetectedRules lists every detected rule id across results, sorted.
func DetectedRules(results map[catalog.Dimension]*ScanResult) []string {
	var ids []string
	for _, res := range results {
		ids = append(ids, res.RulesDetected...)
	}
	sort.Strings(ids)
	return ids
}
