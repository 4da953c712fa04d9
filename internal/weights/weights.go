// Package weights provides the per-usage importance of the four quality
// dimensions, either from named presets or from AHP pairwise comparisons.
package weights

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

// SumTolerance is the allowed deviation of a weight vector's sum from 1.
const SumTolerance = 1e-6

// ErrUnknownUsage is returned when no preset matches a usage label.
var ErrUnknownUsage = fmt.Errorf("%w: unknown usage", dqerr.ErrConfiguration)

// Vector holds one weight per dimension.
type Vector struct {
	DB float64 `json:"w_DB" yaml:"w_DB" mapstructure:"w_DB"`
	DP float64 `json:"w_DP" yaml:"w_DP" mapstructure:"w_DP"`
	BR float64 `json:"w_BR" yaml:"w_BR" mapstructure:"w_BR"`
	UP float64 `json:"w_UP" yaml:"w_UP" mapstructure:"w_UP"`
}

// Equal returns the uniform weight vector.
func Equal() Vector {
	return Vector{DB: 0.25, DP: 0.25, BR: 0.25, UP: 0.25}
}

// FromSlice builds a vector from weights in catalog.Dimensions order.
func FromSlice(w []float64) Vector {
	return Vector{DB: w[0], DP: w[1], BR: w[2], UP: w[3]}
}

// Get returns the weight of dim.
func (v Vector) Get(dim catalog.Dimension) float64 {
	switch dim {
	case catalog.DB:
		return v.DB
	case catalog.DP:
		return v.DP
	case catalog.BR:
		return v.BR
	case catalog.UP:
		return v.UP
	}
	return 0
}

// Slice returns the weights in catalog.Dimensions order.
func (v Vector) Slice() []float64 {
	return []float64{v.DB, v.DP, v.BR, v.UP}
}

// Sum returns the total weight.
func (v Vector) Sum() float64 {
	return v.DB + v.DP + v.BR + v.UP
}

// Validate checks that every weight is non-negative and that they sum to one.
func (v Vector) Validate() error {
	for i, w := range v.Slice() {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return dqerr.Config("weights", "weight of %s must be a non-negative number, got %g", catalog.Dimensions[i], w)
		}
	}
	if sum := v.Sum(); math.Abs(sum-1) > SumTolerance {
		return dqerr.Config("weights", "weights must sum to 1, got %.6f", sum)
	}
	return nil
}

// Normalize scales v to sum to one. A zero vector becomes Equal.
func (v Vector) Normalize() Vector {
	sum := v.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return Equal()
	}
	return Vector{DB: v.DB / sum, DP: v.DP / sum, BR: v.BR / sum, UP: v.UP / sum}
}

// Preset is a named, hand-specified weighting for a data usage.
type Preset struct {
	Name      string   `json:"name" yaml:"name"`
	Aliases   []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Weights   Vector   `json:"weights" yaml:"weights"`
	Rationale string   `json:"rationale" yaml:"rationale"`
}

var presets = []Preset{
	{
		Name:      "regulatory_payroll",
		Aliases:   []string{"paie_reglementaire"},
		Weights:   Vector{DB: 0.40, DP: 0.30, BR: 0.30, UP: 0.00},
		Rationale: "Legal compliance comes first; no contextual flexibility",
	},
	{
		Name:      "social_reporting",
		Aliases:   []string{"reporting_social"},
		Weights:   Vector{DB: 0.25, DP: 0.20, BR: 0.30, UP: 0.25},
		Rationale: "Business consistency across reports comes first; granularity matters",
	},
	{
		Name:      "operational_dashboard",
		Aliases:   []string{"dashboard_operationnel"},
		Weights:   Vector{DB: 0.10, DP: 0.10, BR: 0.20, UP: 0.60},
		Rationale: "Fitness for use dominates: freshness and adaptive granularity",
	},
	{
		Name:      "compliance_audit",
		Aliases:   []string{"audit_conformite"},
		Weights:   Vector{DB: 0.35, DP: 0.35, BR: 0.30, UP: 0.00},
		Rationale: "Full traceability and regulatory conformance",
	},
	{
		Name:      "decision_analytics",
		Aliases:   []string{"analytics_decisional"},
		Weights:   Vector{DB: 0.20, DP: 0.25, BR: 0.25, UP: 0.30},
		Rationale: "Balance between technical and business quality; context matters",
	},
}

// Presets returns every built-in preset.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// NormalizeUsage lower-cases a usage label and replaces spaces and hyphens with underscores.
func NormalizeUsage(usage string) string {
	key := strings.ToLower(strings.TrimSpace(usage))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

// GetPreset resolves a usage label to a preset. Exact names and aliases win;
// otherwise the first preset whose key contains the label, or is contained
// by it, is returned.
func GetPreset(usage string) (Preset, error) {
	key := NormalizeUsage(usage)
	if key == "" {
		return Preset{}, fmt.Errorf("%w: empty usage label", ErrUnknownUsage)
	}
	for _, p := range presets {
		for _, k := range p.keys() {
			if k == key {
				return p, nil
			}
		}
	}
	for _, p := range presets {
		for _, k := range p.keys() {
			if strings.Contains(key, k) || strings.Contains(k, key) {
				return p, nil
			}
		}
	}
	return Preset{}, fmt.Errorf("%w %q", ErrUnknownUsage, usage)
}

func (p Preset) keys() []string {
	return append([]string{p.Name}, p.Aliases...)
}

// IsUnknownUsage reports whether err came from an unmatched usage label.
func IsUnknownUsage(err error) bool {
	return errors.Is(err, ErrUnknownUsage)
}
