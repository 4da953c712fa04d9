// Package risk combines dimension error probabilities and usage weights into
// a contextual risk score.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/estimator"
	"github.com/raaihank/dq-sentinel/internal/weights"
)

// Severity is a risk class.
type Severity string

const (
	Critical   Severity = "CRITICAL"
	High       Severity = "HIGH"
	Medium     Severity = "MEDIUM"
	Acceptable Severity = "ACCEPTABLE"
	VeryLow    Severity = "VERY_LOW"
)

// Severities lists the classes from most to least severe.
var Severities = []Severity{Critical, High, Medium, Acceptable, VeryLow}

// Lower bounds of each class. A score equal to a bound belongs to that class.
var thresholds = []struct {
	min      float64
	severity Severity
}{
	{0.40, Critical},
	{0.25, High},
	{0.15, Medium},
	{0.10, Acceptable},
}

// Score returns R = Σ w_d × E[P_d] over the dimensions of v.
func Score(v estimator.Vector, w weights.Vector) float64 {
	return ScoreExpectations(v.Expectations(), w)
}

// ScoreExpectations scores raw error probabilities. Missing dimensions count as zero.
func ScoreExpectations(p map[catalog.Dimension]float64, w weights.Vector) float64 {
	r := 0.0
	for _, dim := range catalog.Dimensions {
		r += w.Get(dim) * p[dim]
	}
	return r
}

// Classify maps a score to its severity.
func Classify(score float64) Severity {
	for _, t := range thresholds {
		if score >= t.min {
			return t.severity
		}
	}
	return VeryLow
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Severities {
		if sev == known {
			return sev, nil
		}
	}
	return "", dqerr.Config("severity", "unknown severity %q", s)
}

func (s Severity) rank() int {
	for i, known := range Severities {
		if s == known {
			return len(Severities) - i
		}
	}
	return 0
}

// Worse reports whether s is strictly more severe than other.
func (s Severity) Worse(other Severity) bool { return s.rank() > other.rank() }

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool { return s.rank() >= min.rank() }

// Color returns the display color conventionally used for s.
func (s Severity) Color() string {
	switch s {
	case Critical:
		return "red"
	case High:
		return "orange"
	case Medium:
		return "yellow"
	case Acceptable:
		return "lightgreen"
	}
	return "green"
}

var actions = map[Severity][]string{
	Critical: {
		"URGENT: correct %s immediately",
		"Impact: exposure to regulatory adjustments and disputes",
	},
	High: {
		"Plan a correction of %s within 2 weeks",
		"Reinforced daily monitoring",
	},
	Medium: {
		"Improve %s progressively",
		"Weekly monitoring",
	},
	Acceptable: {
		"%s: acceptable quality",
		"Standard monthly monitoring",
	},
	VeryLow: {
		"%s: acceptable quality",
		"Standard monthly monitoring",
	},
}

// Impact estimates the business consequence of a risk score.
type Impact struct {
	EntityID           string   `json:"entity_id" yaml:"entity_id"`
	UsageID            string   `json:"usage_id" yaml:"usage_id"`
	Score              float64  `json:"score" yaml:"score"`
	RecordsAffected    int      `json:"records_affected" yaml:"records_affected"`
	Severity           Severity `json:"severity" yaml:"severity"`
	RecommendedActions []string `json:"recommended_actions" yaml:"recommended_actions"`
}

// EstimateImpact projects score onto recordCount records and looks up the
// actions recommended for its severity.
func EstimateImpact(score float64, entityID, usageID string, recordCount int) Impact {
	sev := Classify(score)
	subject := entityID
	if subject == "" {
		subject = "the dataset"
	}
	recs := make([]string, 0, len(actions[sev]))
	for _, t := range actions[sev] {
		if strings.Contains(t, "%s") {
			t = fmt.Sprintf(t, subject)
		}
		recs = append(recs, t)
	}
	return Impact{
		EntityID:           entityID,
		UsageID:            usageID,
		Score:              score,
		RecordsAffected:    int(math.Round(score * float64(recordCount))),
		Severity:           sev,
		RecommendedActions: recs,
	}
}

// Cell is one entity × usage score.
type Cell struct {
	Entity   string   `json:"entity" yaml:"entity"`
	Usage    string   `json:"usage" yaml:"usage"`
	Score    float64  `json:"score" yaml:"score"`
	Severity Severity `json:"severity" yaml:"severity"`
}

// ScoreMatrix scores every entity vector against every usage weighting.
// Cells are ordered by entity then usage.
func ScoreMatrix(vectors map[string]estimator.Vector, usages map[string]weights.Vector) []Cell {
	entities := sortedKeys(vectors)
	names := sortedKeys(usages)

	out := make([]Cell, 0, len(entities)*len(names))
	for _, e := range entities {
		for _, u := range names {
			s := Score(vectors[e], usages[u])
			out = append(out, Cell{Entity: e, Usage: u, Score: s, Severity: Classify(s)})
		}
	}
	return out
}

// Rank orders cells by descending score and keeps at most topN (all when topN <= 0).
func Rank(cells []Cell, topN int) []Cell {
	out := make([]Cell, len(cells))
	copy(out, cells)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
