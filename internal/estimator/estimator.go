// Package estimator turns observed dimension error rates into Beta
// distributions with quantified uncertainty.
package estimator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

// Epsilon keeps both shape parameters strictly positive.
const Epsilon = 1e-6

// Tier is a confidence level expressed as an equivalent sample size.
type Tier string

const (
	High   Tier = "HIGH"
	Medium Tier = "MEDIUM"
	Low    Tier = "LOW"
)

var tierSize = map[Tier]int{
	High:   100,
	Medium: 50,
	Low:    20,
}

// ParseTier parses a confidence tier, case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := tierSize[t]; !ok {
		return "", dqerr.Config("confidence", "unknown confidence tier %q (must be HIGH, MEDIUM or LOW)", s)
	}
	return t, nil
}

// N returns the equivalent sample size of t, or 0 for an unknown tier.
func (t Tier) N() int { return tierSize[t] }

// DefaultTiers are used for dimensions without an explicit tier.
// Usage fit is judged from fewer signals than the structural dimensions.
var DefaultTiers = map[catalog.Dimension]Tier{
	catalog.DB: High,
	catalog.DP: High,
	catalog.BR: High,
	catalog.UP: Medium,
}

// autoTierThreshold is the observed rate above which AutoTier asserts HIGH confidence.
const autoTierThreshold = 0.05

// AutoTier picks a tier from the observed rate: frequent errors are well
// evidenced, rare ones are estimated with medium confidence.
func AutoTier(rate float64) Tier {
	if rate > autoTierThreshold {
		return High
	}
	return Medium
}

// Entry is the Beta estimate of one dimension.
type Entry struct {
	ErrorRate   float64 `json:"error_rate" yaml:"error_rate"`
	Alpha       float64 `json:"alpha" yaml:"alpha"`
	Beta        float64 `json:"beta" yaml:"beta"`
	Expectation float64 `json:"expectation" yaml:"expectation"`
	Variance    float64 `json:"variance" yaml:"variance"`
	Std         float64 `json:"std" yaml:"std"`
	CILower     float64 `json:"ci_lower" yaml:"ci_lower"`
	CIUpper     float64 `json:"ci_upper" yaml:"ci_upper"`
	Tier        Tier    `json:"confidence" yaml:"confidence"`
	N           int     `json:"n_obs_equiv" yaml:"n_obs_equiv"`
}

// Vector holds one estimate per dimension.
type Vector map[catalog.Dimension]Entry

// Expectations returns the expected error probability of every dimension.
func (v Vector) Expectations() map[catalog.Dimension]float64 {
	out := make(map[catalog.Dimension]float64, len(v))
	for dim, e := range v {
		out[dim] = e.Expectation
	}
	return out
}

// Estimate converts an error rate into Beta(alpha, beta). nOverride, when
// positive, replaces the tier's equivalent sample size.
func Estimate(errorRate float64, tier Tier, nOverride int) (Entry, error) {
	if math.IsNaN(errorRate) {
		return Entry{}, dqerr.Config("error_rate", "error rate is NaN")
	}
	n := nOverride
	if n <= 0 {
		n = tier.N()
		if n == 0 {
			return Entry{}, dqerr.Config("confidence", "unknown confidence tier %q", tier)
		}
	}

	rate := math.Max(0, math.Min(1, errorRate))
	alpha := math.Max(rate*float64(n), Epsilon)
	beta := math.Max((1-rate)*float64(n), Epsilon)
	return fromParams(rate, alpha, beta, tier, n), nil
}

// FromParams builds an entry from explicit shape parameters, for instance
// after UpdateWithEvidence.
func FromParams(alpha, beta float64, tier Tier) (Entry, error) {
	if !(alpha > 0) || !(beta > 0) || math.IsInf(alpha, 0) || math.IsInf(beta, 0) {
		return Entry{}, dqerr.Config("beta_params", "shape parameters must be positive and finite (alpha=%g, beta=%g)", alpha, beta)
	}
	n := int(math.Round(alpha + beta))
	return fromParams(alpha/(alpha+beta), alpha, beta, tier, n), nil
}

func fromParams(rate, alpha, beta float64, tier Tier, n int) Entry {
	sum := alpha + beta
	variance := alpha * beta / (sum * sum * (sum + 1))
	lo, hi := credibleInterval(alpha, beta)
	return Entry{
		ErrorRate:   rate,
		Alpha:       alpha,
		Beta:        beta,
		Expectation: alpha / sum,
		Variance:    variance,
		Std:         math.Sqrt(variance),
		CILower:     lo,
		CIUpper:     hi,
		Tier:        tier,
		N:           n,
	}
}

// credibleInterval returns the 2.5th and 97.5th percentiles. Extreme shapes
// can defeat the inverse incomplete beta; the support bounds are used then.
func credibleInterval(alpha, beta float64) (lo, hi float64) {
	dist := distuv.Beta{Alpha: alpha, Beta: beta}
	lo, hi = dist.Quantile(0.025), dist.Quantile(0.975)
	if math.IsNaN(lo) || lo < 0 {
		lo = 0
	}
	if math.IsNaN(hi) || hi > 1 {
		hi = 1
	}
	return lo, hi
}

// Compute4DVector estimates every dimension in rates independently. A
// dimension missing from tiers uses DefaultTiers.
func Compute4DVector(rates map[catalog.Dimension]float64, tiers map[catalog.Dimension]Tier) (Vector, error) {
	out := make(Vector, len(rates))
	for dim, rate := range rates {
		tier, ok := tiers[dim]
		if !ok {
			tier = DefaultTiers[dim]
		}
		e, err := Estimate(rate, tier, 0)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", dim, err)
		}
		out[dim] = e
	}
	return out, nil
}

// UpdateWithEvidence applies the Beta-Binomial conjugate update. A failure is
// an observed error.
func UpdateWithEvidence(alpha, beta float64, successes, failures int) (float64, float64, error) {
	if successes < 0 || failures < 0 {
		return 0, 0, dqerr.Config("evidence", "evidence counts must be non-negative (successes=%d, failures=%d)", successes, failures)
	}
	return alpha + float64(failures), beta + float64(successes), nil
}

// Sample draws n error probabilities from the entry's distribution.
// A nil src uses the global generator.
func Sample(e Entry, n int, src rand.Source) []float64 {
	dist := distuv.Beta{Alpha: e.Alpha, Beta: e.Beta, Src: src}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}
