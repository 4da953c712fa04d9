package weights

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

// Saaty random consistency index for a 4x4 matrix.
const randomIndex4 = 0.90

// ConsistencyThreshold is the conventional upper bound for an acceptable consistency ratio.
const ConsistencyThreshold = 0.10

// Method names how AHP weights were derived.
type Method string

const (
	MethodEigenvector   Method = "eigenvector"
	MethodGeometricMean Method = "geometric_mean"
	MethodEqual         Method = "equal"
)

// Comparison states that dimension A is Score times as important as B on the Saaty scale.
type Comparison struct {
	A     catalog.Dimension `json:"a" yaml:"a"`
	B     catalog.Dimension `json:"b" yaml:"b"`
	Score float64           `json:"score" yaml:"score"`
}

// AHPResult carries the elicited weights and their consistency diagnostics.
type AHPResult struct {
	Weights    Vector      `json:"weights"`
	Matrix     [][]float64 `json:"matrix"`
	LambdaMax  float64     `json:"lambda_max"`
	CI         float64     `json:"ci"`
	CR         float64     `json:"cr"`
	Consistent bool        `json:"consistent"`
	Warning    string      `json:"warning,omitempty"`
	Method     Method      `json:"method"`
}

// ComparisonMatrix builds the 4x4 reciprocal matrix over catalog.Dimensions.
// Pairs that are not supplied stay neutral.
func ComparisonMatrix(pairs []Comparison) (*mat.Dense, error) {
	n := len(catalog.Dimensions)
	index := make(map[catalog.Dimension]int, n)
	for i, d := range catalog.Dimensions {
		index[d] = i
	}

	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, 1)
		}
	}

	for _, p := range pairs {
		i, ok := index[p.A]
		if !ok {
			return nil, dqerr.Config("comparisons", "unknown dimension %q", p.A)
		}
		j, ok := index[p.B]
		if !ok {
			return nil, dqerr.Config("comparisons", "unknown dimension %q", p.B)
		}
		if i == j {
			return nil, dqerr.Config("comparisons", "dimension %s compared with itself", p.A)
		}
		if !(p.Score > 0) || math.IsInf(p.Score, 0) {
			return nil, dqerr.Config("comparisons", "score of %s vs %s must be positive, got %g", p.A, p.B, p.Score)
		}
		m.Set(i, j, p.Score)
		m.Set(j, i, 1/p.Score)
	}
	return m, nil
}

// ComputeFromComparisons derives weights from pairwise judgments using the
// principal eigenvector. An inconsistent matrix is flagged, not rejected.
// When the eigen decomposition is unusable the geometric-mean approximation
// is used, then equal weights. It never falls back to a usage preset, since
// the comparisons carry no usage name; Method and Warning record which
// fallback produced the result.
func ComputeFromComparisons(pairs []Comparison) (*AHPResult, error) {
	m, err := ComparisonMatrix(pairs)
	if err != nil {
		return nil, err
	}
	n, _ := m.Dims()

	res := &AHPResult{Matrix: toRows(m)}
	w, lambda, ok := principalEigenvector(m)
	res.Method = MethodEigenvector
	if !ok {
		w, lambda, ok = geometricMean(m)
		res.Method = MethodGeometricMean
	}
	if !ok {
		res.Weights = Equal()
		res.LambdaMax = float64(n)
		res.Consistent = true
		res.Method = MethodEqual
		res.Warning = "comparison matrix is numerically degenerate; equal weights used"
		return res, nil
	}

	res.Weights = FromSlice(w)
	res.LambdaMax = lambda
	res.CI = math.Max(0, (lambda-float64(n))/float64(n-1))
	res.CR = res.CI / randomIndex4
	res.Consistent = res.CR <= ConsistencyThreshold
	if !res.Consistent {
		res.Warning = "consistency ratio above 0.10; review the pairwise judgments"
	}
	return res, nil
}

// principalEigenvector returns the normalized real part of the eigenvector
// of the largest eigenvalue.
func principalEigenvector(m *mat.Dense) ([]float64, float64, bool) {
	var eig mat.Eigen
	if !eig.Factorize(m, mat.EigenRight) {
		return nil, 0, false
	}
	values := eig.Values(nil)
	var vectors mat.CDense
	eig.VectorsTo(&vectors)

	best := -1
	for i, v := range values {
		if cmplx.IsNaN(v) {
			continue
		}
		if best < 0 || real(v) > real(values[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil, 0, false
	}

	n := len(values)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		// a Perron vector has a single sign
		w[i] = math.Abs(real(vectors.At(i, best)))
	}
	w, ok := normalize(w)
	return w, real(values[best]), ok
}

// geometricMean approximates the priority vector by normalized row geometric
// means and estimates lambda max from M·w.
func geometricMean(m *mat.Dense) ([]float64, float64, bool) {
	n, _ := m.Dims()
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		logSum := 0.0
		for j := 0; j < n; j++ {
			logSum += math.Log(m.At(i, j))
		}
		w[i] = math.Exp(logSum / float64(n))
	}
	w, ok := normalize(w)
	if !ok {
		return nil, 0, false
	}

	var mw mat.VecDense
	mw.MulVec(m, mat.NewVecDense(n, w))
	lambda := 0.0
	for i := 0; i < n; i++ {
		lambda += mw.AtVec(i) / w[i]
	}
	return w, lambda / float64(n), true
}

func normalize(w []float64) ([]float64, bool) {
	sum := 0.0
	for _, x := range w {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		sum += x
	}
	if sum <= 0 {
		return nil, false
	}
	for i := range w {
		w[i] /= sum
		if w[i] <= 0 {
			return nil, false
		}
	}
	return w, true
}

func toRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}
