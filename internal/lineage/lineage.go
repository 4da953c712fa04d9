// Package lineage propagates dimension error probabilities along a
// transformation pipeline.
package lineage

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/estimator"
)

// Stage is one pipeline step and the failure probability it adds per dimension.
type Stage struct {
	Name        string                        `yaml:"name" json:"name"`
	Description string                        `yaml:"description,omitempty" json:"description,omitempty"`
	Increments  map[catalog.Dimension]float64 `yaml:"increments" json:"increments"`
}

// Step is the state of every dimension after a stage.
type Step struct {
	Stage         string                        `json:"stage" yaml:"stage"`
	Probabilities map[catalog.Dimension]float64 `json:"probabilities" yaml:"probabilities"`
}

// Simulation is the outcome of running a source vector through a pipeline.
type Simulation struct {
	Source        map[catalog.Dimension]float64   `json:"source" yaml:"source"`
	Final         map[catalog.Dimension]float64   `json:"final" yaml:"final"`
	FinalVector   estimator.Vector                `json:"final_vector" yaml:"final_vector"`
	Degradation   map[catalog.Dimension]float64   `json:"degradation" yaml:"degradation"`
	PerStageDelta []map[catalog.Dimension]float64 `json:"per_stage_delta" yaml:"per_stage_delta"`
	History       []Step                          `json:"history" yaml:"history"`
}

// SourceStage labels the first history entry.
const SourceStage = "source"

// Propagate folds increments over initial with P_i = 1 - (1 - P_{i-1})(1 - inc_i)
// and returns every intermediate value, starting with initial.
func Propagate(initial float64, increments []float64) ([]float64, error) {
	if err := checkProbability("initial probability", initial); err != nil {
		return nil, err
	}
	history := make([]float64, 0, len(increments)+1)
	history = append(history, initial)
	p := initial
	for i, inc := range increments {
		if err := checkProbability(fmt.Sprintf("increment %d", i), inc); err != nil {
			return nil, err
		}
		p = 1 - (1-p)*(1-inc)
		history = append(history, p)
	}
	return history, nil
}

func checkProbability(what string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return dqerr.Config("lineage", "%s must be within [0, 1], got %g", what, p)
	}
	return nil
}

// ValidateStages checks names and increments of every stage.
func ValidateStages(stages []Stage) error {
	for i, s := range stages {
		if s.Name == "" {
			return dqerr.Config("lineage", "stage %d has no name", i)
		}
		for dim, inc := range s.Increments {
			if _, err := catalog.ParseDimension(string(dim)); err != nil {
				return fmt.Errorf("stage %s: %w", s.Name, err)
			}
			if err := checkProbability(fmt.Sprintf("stage %s increment for %s", s.Name, dim), inc); err != nil {
				return err
			}
		}
	}
	return nil
}

// SimulatePipeline propagates every dimension of source through stages and
// re-estimates the final probabilities at tier. Dimensions absent from
// source start at zero.
func SimulatePipeline(source map[catalog.Dimension]float64, stages []Stage, tier estimator.Tier) (*Simulation, error) {
	if err := ValidateStages(stages); err != nil {
		return nil, err
	}

	sim := &Simulation{
		Source:      make(map[catalog.Dimension]float64, len(catalog.Dimensions)),
		Final:       make(map[catalog.Dimension]float64, len(catalog.Dimensions)),
		Degradation: make(map[catalog.Dimension]float64, len(catalog.Dimensions)),
		History:     make([]Step, len(stages)+1),
	}
	for i := range sim.History {
		name := SourceStage
		if i > 0 {
			name = stages[i-1].Name
		}
		sim.History[i] = Step{Stage: name, Probabilities: map[catalog.Dimension]float64{}}
	}

	for _, dim := range catalog.Dimensions {
		increments := make([]float64, len(stages))
		for i, s := range stages {
			increments[i] = s.Increments[dim]
		}
		history, err := Propagate(source[dim], increments)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", dim, err)
		}
		for i, p := range history {
			sim.History[i].Probabilities[dim] = p
		}
		final := history[len(history)-1]
		sim.Source[dim] = history[0]
		sim.Final[dim] = final
		sim.Degradation[dim] = final - history[0]
	}

	sim.PerStageDelta = make([]map[catalog.Dimension]float64, len(stages))
	for i := range stages {
		delta := make(map[catalog.Dimension]float64, len(catalog.Dimensions))
		for _, dim := range catalog.Dimensions {
			delta[dim] = sim.History[i+1].Probabilities[dim] - sim.History[i].Probabilities[dim]
		}
		sim.PerStageDelta[i] = delta
	}

	tiers := make(map[catalog.Dimension]estimator.Tier, len(catalog.Dimensions))
	for _, dim := range catalog.Dimensions {
		tiers[dim] = tier
	}
	vec, err := estimator.Compute4DVector(sim.Final, tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to re-estimate final vector: %w", err)
	}
	sim.FinalVector = vec

	return sim, nil
}

// Trend classifies a change in risk.
type Trend string

const (
	MajorDegradation       Trend = "major_degradation"
	SignificantDegradation Trend = "significant_degradation"
	MinorDegradation       Trend = "minor_degradation"
	Stable                 Trend = "stable"
	Improvement            Trend = "improvement"
)

var interpretations = map[Trend]string{
	MajorDegradation:       "Major degradation: urgent corrective action",
	SignificantDegradation: "Significant degradation: reinforced monitoring",
	MinorDegradation:       "Minor degradation: continuous monitoring",
	Stable:                 "Stable: quality preserved",
	Improvement:            "Improvement: the pipeline adds quality controls",
}

// Delta compares the risk of the source with the risk after the pipeline.
type Delta struct {
	Source         float64 `json:"risk_source" yaml:"risk_source"`
	Final          float64 `json:"risk_final" yaml:"risk_final"`
	Absolute       float64 `json:"delta_absolute" yaml:"delta_absolute"`
	Relative       float64 `json:"delta_relative" yaml:"delta_relative"`
	Trend          Trend   `json:"trend" yaml:"trend"`
	Interpretation string  `json:"interpretation" yaml:"interpretation"`
}

// RiskDelta classifies the change from source to final risk.
func RiskDelta(source, final float64) Delta {
	abs := final - source
	rel := 0.0
	if source > 0 {
		rel = abs / source
	}

	var trend Trend
	switch {
	case abs > 0.10:
		trend = MajorDegradation
	case abs > 0.05:
		trend = SignificantDegradation
	case abs > 0.01:
		trend = MinorDegradation
	case abs > -0.01:
		trend = Stable
	default:
		trend = Improvement
	}

	return Delta{
		Source:         source,
		Final:          final,
		Absolute:       abs,
		Relative:       rel,
		Trend:          trend,
		Interpretation: interpretations[trend],
	}
}

// DefaultPipeline is a four-stage payroll computation: extraction, business
// enrichment, aggregation and final calculation.
func DefaultPipeline() []Stage {
	return []Stage{
		{Name: "ETL Extraction", Description: "VARCHAR to DECIMAL conversion", Increments: map[catalog.Dimension]float64{catalog.DP: 0.05}},
		{Name: "Business Enrichment", Description: "Bonus scale computation", Increments: map[catalog.Dimension]float64{catalog.BR: 0.02}},
		{Name: "Payroll Aggregation", Description: "Salary join and totals", Increments: map[catalog.Dimension]float64{catalog.DP: 0.08}},
		{Name: "Final Calculation", Description: "Bonus summation and rounding", Increments: map[catalog.Dimension]float64{catalog.DP: 0.01}},
	}
}

type stagesFile struct {
	Stages []Stage `yaml:"stages"`
}

// ParseStages decodes a YAML document with a top-level stages list.
func ParseStages(data []byte) ([]Stage, error) {
	var f stagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, dqerr.Config("lineage", "invalid pipeline definition: %v", err)
	}
	return NormalizeStages(f.Stages)
}

// NormalizeStages canonicalizes the dimension keys of every stage, then
// validates the pipeline.
func NormalizeStages(stages []Stage) ([]Stage, error) {
	out := make([]Stage, len(stages))
	for i, s := range stages {
		incs := make(map[catalog.Dimension]float64, len(s.Increments))
		for key, inc := range s.Increments {
			dim, err := catalog.ParseDimension(string(key))
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", s.Name, err)
			}
			incs[dim] = inc
		}
		out[i] = Stage{Name: s.Name, Description: s.Description, Increments: incs}
	}
	if err := ValidateStages(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadStages reads a pipeline definition from path.
func LoadStages(path string) ([]Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return ParseStages(data)
}
