// Package analysis orchestrates a full risk analysis: dimension scans, Beta
// estimation, usage weighting, scoring and optional lineage simulation.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/contract"
	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/estimator"
	"github.com/raaihank/dq-sentinel/internal/lineage"
	"github.com/raaihank/dq-sentinel/internal/metrics"
	"github.com/raaihank/dq-sentinel/internal/risk"
	"github.com/raaihank/dq-sentinel/internal/scanner"
	"github.com/raaihank/dq-sentinel/internal/weights"
)

// Config holds analysis defaults applied when a request leaves a field empty.
type Config struct {
	DefaultBudget    scanner.Budget
	DefaultUsages    []string
	Tiers            map[catalog.Dimension]estimator.Tier
	AutoConfidence   bool
	ReestimationTier estimator.Tier
	Pipeline         []lineage.Stage
}

// DefaultConfig returns a STANDARD budget over every preset usage.
func DefaultConfig() Config {
	var usages []string
	for _, p := range weights.Presets() {
		usages = append(usages, p.Name)
	}
	return Config{
		DefaultBudget:    scanner.Standard,
		DefaultUsages:    usages,
		Tiers:            estimator.DefaultTiers,
		ReestimationTier: estimator.Medium,
	}
}

// Request describes one analysis.
type Request struct {
	// Name identifies the analysed entity in impacts and contracts.
	Name       string              `json:"name,omitempty"`
	Budget     scanner.Budget      `json:"budget,omitempty"`
	Dimensions []catalog.Dimension `json:"dimensions,omitempty"`
	Usages     []string            `json:"usages,omitempty"`
	// Weights supplies explicit weights for custom usages.
	Weights map[string]weights.Vector `json:"weights,omitempty"`
	// Comparisons elicits weights for custom usages through AHP.
	Comparisons    map[string][]weights.Comparison      `json:"comparisons,omitempty"`
	Confidence     map[catalog.Dimension]estimator.Tier `json:"confidence,omitempty"`
	AutoConfidence *bool                                `json:"auto_confidence,omitempty"`
	Columns        scanner.ColumnConfig                 `json:"columns,omitempty"`
	// SimulateLineage runs Pipeline, or the configured pipeline when empty.
	SimulateLineage bool            `json:"simulate_lineage,omitempty"`
	Pipeline        []lineage.Stage `json:"pipeline,omitempty"`
	Contract        bool            `json:"contract,omitempty"`
}

// UsageResult is the risk of the dataset for one usage.
type UsageResult struct {
	Usage     string             `json:"usage"`
	Source    string             `json:"source"`
	Rationale string             `json:"rationale,omitempty"`
	Weights   weights.Vector     `json:"weights"`
	AHP       *weights.AHPResult `json:"ahp,omitempty"`
	Score     float64            `json:"score"`
	Severity  risk.Severity      `json:"severity"`
	Impact    risk.Impact        `json:"impact"`
	Lineage   *LineageResult     `json:"lineage,omitempty"`
}

// LineageResult is the usage risk after the pipeline.
type LineageResult struct {
	FinalScore    float64       `json:"final_score"`
	FinalSeverity risk.Severity `json:"final_severity"`
	Delta         lineage.Delta `json:"delta"`
}

// Report is the full outcome of an analysis.
type Report struct {
	RunID       string                                    `json:"run_id"`
	Name        string                                    `json:"name,omitempty"`
	StartedAt   time.Time                                 `json:"started_at"`
	Duration    time.Duration                             `json:"duration"`
	DatasetHash string                                    `json:"dataset_hash"`
	Rows        int                                       `json:"rows"`
	Budget      scanner.Budget                            `json:"budget"`
	Scans       map[catalog.Dimension]*scanner.ScanResult `json:"scans"`
	ErrorRates  map[catalog.Dimension]float64             `json:"error_rates"`
	Vector      estimator.Vector                          `json:"vector"`
	Usages      []UsageResult                             `json:"usages"`
	Worst       risk.Severity                             `json:"worst_severity"`
	Simulation  *lineage.Simulation                       `json:"simulation,omitempty"`
	Contract    *contract.Document                        `json:"contract,omitempty"`
}

// Analyzer runs analyses against a shared catalog.
type Analyzer struct {
	scanner *scanner.Scanner
	catalog contract.Catalog
	sink    EventSink
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an analyzer. A nil sink discards events.
func New(sc *scanner.Scanner, cat contract.Catalog, sink EventSink, config Config, logger *zap.Logger) *Analyzer {
	if sink == nil {
		sink = NopSink{}
	}
	if config.ReestimationTier == "" {
		config.ReestimationTier = estimator.Medium
	}
	if config.DefaultBudget == "" {
		config.DefaultBudget = scanner.Standard
	}
	return &Analyzer{
		scanner: sc,
		catalog: cat,
		sink:    sink,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

type usagePlan struct {
	name      string
	source    string
	rationale string
	weights   weights.Vector
	ahp       *weights.AHPResult
}

// Analyze scans ds and scores it for every requested usage. Configuration
// errors are returned before any rule runs.
func (a *Analyzer) Analyze(ctx context.Context, ds *dataset.Dataset, req Request) (*Report, error) {
	if ds == nil {
		return nil, dqerr.Config("dataset", "dataset is nil")
	}
	runID := uuid.NewString()
	logger := a.logger.With(zap.String("run_id", runID))
	start := a.now()

	budget, dims, err := a.resolveScope(req)
	if err != nil {
		return nil, err
	}
	if req.Confidence, err = resolveConfidence(req.Confidence); err != nil {
		return nil, err
	}
	usages, err := a.resolveUsages(req)
	if err != nil {
		return nil, err
	}
	var stages []lineage.Stage
	if req.SimulateLineage {
		stages = req.Pipeline
		if len(stages) == 0 {
			stages = a.config.Pipeline
		}
		if len(stages) == 0 {
			stages = lineage.DefaultPipeline()
		}
		if stages, err = lineage.NormalizeStages(stages); err != nil {
			return nil, err
		}
	}

	names := make([]string, len(usages))
	for i, u := range usages {
		names[i] = u.name
	}
	a.publish(EventAnalysisStarted, runID, StartedEvent{
		Name: req.Name, Rows: ds.Len(), Budget: budget, Dimensions: dims, Usages: names,
	})
	logger.Info("Starting analysis",
		zap.String("name", req.Name),
		zap.Int("rows", ds.Len()),
		zap.String("budget", string(budget)),
		zap.Strings("usages", names))

	report, err := a.run(ctx, ds, req, runID, budget, dims, usages, stages)
	if err != nil {
		a.publish(EventAnalysisFailed, runID, FailedEvent{Error: err.Error()})
		logger.Error("Analysis failed", zap.Error(err))
		return nil, err
	}
	report.StartedAt = start
	report.Duration = a.now().Sub(start)

	scores := make(map[string]float64, len(report.Usages))
	for _, u := range report.Usages {
		scores[u.Usage] = u.Score
	}
	metrics.Analyses.WithLabelValues(string(report.Worst)).Inc()
	a.publish(EventAnalysisCompleted, runID, CompletedEvent{
		Name:       req.Name,
		Scores:     scores,
		Worst:      report.Worst,
		DurationMS: float64(report.Duration.Microseconds()) / 1000,
	})
	logger.Info("Analysis completed",
		zap.String("worst_severity", string(report.Worst)),
		zap.Duration("duration", report.Duration))

	return report, nil
}

func (a *Analyzer) run(ctx context.Context, ds *dataset.Dataset, req Request, runID string,
	budget scanner.Budget, dims []catalog.Dimension, usages []usagePlan, stages []lineage.Stage) (*Report, error) {

	cols := scanner.AutoDetect(ds).Merge(req.Columns)
	results, err := a.scanner.ScanAll(ctx, ds, dims, budget, cols)
	if err != nil {
		return nil, err
	}
	for _, dim := range dims {
		res := results[dim]
		a.publish(EventScanCompleted, runID, ScanEvent{
			Dimension:     dim,
			RulesScanned:  res.RulesScanned,
			RulesDetected: res.RulesDetected,
			RulesSkipped:  res.RulesSkipped,
			ErrorRate:     res.ErrorRate,
		})
	}

	rates := scanner.ErrorRates(results)
	vector, err := estimator.Compute4DVector(rates, a.tiers(req, rates))
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       runID,
		Name:        req.Name,
		DatasetHash: ds.Hash(),
		Rows:        ds.Len(),
		Budget:      budget,
		Scans:       results,
		ErrorRates:  rates,
		Vector:      vector,
		Worst:       risk.VeryLow,
	}

	if len(stages) > 0 {
		sim, err := lineage.SimulatePipeline(vector.Expectations(), stages, a.config.ReestimationTier)
		if err != nil {
			return nil, err
		}
		report.Simulation = sim
	}

	entity := req.Name
	for _, u := range usages {
		score := risk.Score(vector, u.weights)
		ur := UsageResult{
			Usage:     u.name,
			Source:    u.source,
			Rationale: u.rationale,
			Weights:   u.weights,
			AHP:       u.ahp,
			Score:     score,
			Severity:  risk.Classify(score),
			Impact:    risk.EstimateImpact(score, entity, u.name, ds.Len()),
		}
		if report.Simulation != nil {
			final := risk.Score(report.Simulation.FinalVector, u.weights)
			ur.Lineage = &LineageResult{
				FinalScore:    final,
				FinalSeverity: risk.Classify(final),
				Delta:         lineage.RiskDelta(score, final),
			}
		}
		if ur.Severity.Worse(report.Worst) {
			report.Worst = ur.Severity
		}
		report.Usages = append(report.Usages, ur)
	}

	if req.Contract {
		id := req.Name
		if id == "" {
			id = runID
		}
		report.Contract = contract.Build(a.catalog, results, contract.Options{ID: id, Name: req.Name, Now: a.now})
	}

	return report, nil
}

func (a *Analyzer) resolveScope(req Request) (scanner.Budget, []catalog.Dimension, error) {
	budget := req.Budget
	if budget == "" {
		budget = a.config.DefaultBudget
	}
	budget, err := scanner.ParseBudget(string(budget))
	if err != nil {
		return "", nil, err
	}

	dims := req.Dimensions
	if len(dims) == 0 {
		dims = catalog.Dimensions
	}
	seen := make(map[catalog.Dimension]bool, len(dims))
	out := make([]catalog.Dimension, 0, len(dims))
	for _, d := range dims {
		dim, err := catalog.ParseDimension(string(d))
		if err != nil {
			return "", nil, err
		}
		if !seen[dim] {
			seen[dim] = true
			out = append(out, dim)
		}
	}
	return budget, out, nil
}

// resolveConfidence validates tier overrides and keys them by canonical dimension.
func resolveConfidence(in map[catalog.Dimension]estimator.Tier) (map[catalog.Dimension]estimator.Tier, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[catalog.Dimension]estimator.Tier, len(in))
	for d, t := range in {
		dim, err := catalog.ParseDimension(string(d))
		if err != nil {
			return nil, err
		}
		tier, err := estimator.ParseTier(string(t))
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", dim, err)
		}
		out[dim] = tier
	}
	return out, nil
}

// resolveUsages picks the weights of every usage: explicit weights first,
// then AHP comparisons, then the named presets.
func (a *Analyzer) resolveUsages(req Request) ([]usagePlan, error) {
	names := req.Usages
	if len(names) == 0 {
		for name := range req.Weights {
			names = append(names, name)
		}
		for name := range req.Comparisons {
			if _, dup := req.Weights[name]; !dup {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		names = a.config.DefaultUsages
	}
	if len(names) == 0 {
		return nil, dqerr.Config("usages", "no usage requested")
	}

	plans := make([]usagePlan, 0, len(names))
	for _, name := range names {
		if w, ok := req.Weights[name]; ok {
			if err := w.Validate(); err != nil {
				return nil, fmt.Errorf("usage %s: %w", name, err)
			}
			plans = append(plans, usagePlan{name: name, source: "custom", weights: w})
			continue
		}
		if pairs, ok := req.Comparisons[name]; ok {
			res, err := weights.ComputeFromComparisons(pairs)
			if err != nil {
				return nil, fmt.Errorf("usage %s: %w", name, err)
			}
			if !res.Consistent {
				a.logger.Warn("Inconsistent pairwise comparisons",
					zap.String("usage", name),
					zap.Float64("cr", res.CR))
			}
			plans = append(plans, usagePlan{name: name, source: "ahp", weights: res.Weights, ahp: res, rationale: res.Warning})
			continue
		}
		p, err := weights.GetPreset(name)
		if err != nil {
			return nil, err
		}
		plans = append(plans, usagePlan{name: name, source: "preset:" + p.Name, weights: p.Weights, rationale: p.Rationale})
	}
	return plans, nil
}

// tiers resolves the confidence of every scanned dimension: request
// overrides, then auto tiering when enabled, then configured tiers.
func (a *Analyzer) tiers(req Request, rates map[catalog.Dimension]float64) map[catalog.Dimension]estimator.Tier {
	auto := a.config.AutoConfidence
	if req.AutoConfidence != nil {
		auto = *req.AutoConfidence
	}
	out := make(map[catalog.Dimension]estimator.Tier, len(rates))
	for dim, rate := range rates {
		switch t, ok := req.Confidence[dim]; {
		case ok:
			out[dim] = t
		case auto:
			out[dim] = estimator.AutoTier(rate)
		default:
			if t, ok := a.config.Tiers[dim]; ok {
				out[dim] = t
			}
		}
	}
	return out
}

func (a *Analyzer) publish(t EventType, runID string, data any) {
	a.sink.Publish(Event{Type: t, RunID: runID, Timestamp: a.now(), Data: data})
}
