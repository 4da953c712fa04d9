package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/estimator"
	"github.com/raaihank/dq-sentinel/internal/weights"
)

var payrollWeights = weights.Vector{DB: 0.40, DP: 0.30, BR: 0.30, UP: 0.00}

func TestScorePayrollScenario(t *testing.T) {
	p := map[catalog.Dimension]float64{
		catalog.DB: 0.99,
		catalog.DP: 0.02,
		catalog.BR: 0.20,
		catalog.UP: 0.10,
	}
	r := ScoreExpectations(p, payrollWeights)
	assert.InDelta(t, 0.462, r, 1e-9)
	assert.Equal(t, Critical, Classify(r))

	v, err := estimator.Compute4DVector(p, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.462, Score(v, payrollWeights), 1e-9)
}

func TestScoreIsBoundedAndLinear(t *testing.T) {
	ones := map[catalog.Dimension]float64{catalog.DB: 1, catalog.DP: 1, catalog.BR: 1, catalog.UP: 1}
	half := map[catalog.Dimension]float64{catalog.DB: 0.5, catalog.DP: 0.5, catalog.BR: 0.5, catalog.UP: 0.5}

	for _, p := range weights.Presets() {
		assert.InDelta(t, 1.0, ScoreExpectations(ones, p.Weights), 1e-9, p.Name)
		assert.InDelta(t, 0.5, ScoreExpectations(half, p.Weights), 1e-9, p.Name)
		assert.Equal(t, 0.0, ScoreExpectations(nil, p.Weights))
	}
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.95, Critical},
		{0.40, Critical},
		{0.3999, High},
		{0.25, High},
		{0.2499, Medium},
		{0.15, Medium},
		{0.1499, Acceptable},
		{0.10, Acceptable},
		{0.0999, VeryLow},
		{0, VeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
	assert.Equal(t, "red", Critical.Color())
	assert.Equal(t, "green", VeryLow.Color())
}

func TestEstimateImpact(t *testing.T) {
	imp := EstimateImpact(0.462, "seniority", "regulatory_payroll", 687)
	assert.Equal(t, 317, imp.RecordsAffected)
	assert.Equal(t, Critical, imp.Severity)
	require.Len(t, imp.RecommendedActions, 2)
	assert.Equal(t, "URGENT: correct seniority immediately", imp.RecommendedActions[0])

	imp = EstimateImpact(0.2, "", "dashboard", 10)
	assert.Equal(t, 2, imp.RecordsAffected)
	assert.Equal(t, "Improve the dataset progressively", imp.RecommendedActions[0])

	for _, sev := range Severities {
		assert.NotEmpty(t, actions[sev], sev)
	}
}

func TestScoreMatrixAndRank(t *testing.T) {
	low, err := estimator.Compute4DVector(map[catalog.Dimension]float64{
		catalog.DB: 0.01, catalog.DP: 0.01, catalog.BR: 0.01, catalog.UP: 0.01,
	}, nil)
	require.NoError(t, err)
	high, err := estimator.Compute4DVector(map[catalog.Dimension]float64{
		catalog.DB: 0.9, catalog.DP: 0.1, catalog.BR: 0.1, catalog.UP: 0.8,
	}, nil)
	require.NoError(t, err)

	cells := ScoreMatrix(
		map[string]estimator.Vector{"salary": low, "seniority": high},
		map[string]weights.Vector{"payroll": payrollWeights, "dashboard": {DB: 0.1, DP: 0.1, BR: 0.2, UP: 0.6}},
	)
	require.Len(t, cells, 4)
	assert.Equal(t, "salary", cells[0].Entity)
	assert.Equal(t, "dashboard", cells[0].Usage)

	top := Rank(cells, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "seniority", top[0].Entity)
	assert.Equal(t, "dashboard", top[0].Usage)
	assert.InDelta(t, 0.09+0.01+0.02+0.48, top[0].Score, 1e-9)
	assert.Equal(t, Critical, top[0].Severity)

	assert.Len(t, Rank(cells, 0), 4)
}

func TestSeverityOrdering(t *testing.T) {
	sev, err := ParseSeverity(" high ")
	require.NoError(t, err)
	assert.Equal(t, High, sev)

	_, err = ParseSeverity("severe")
	assert.Error(t, err)

	assert.True(t, Critical.Worse(High))
	assert.False(t, High.Worse(High))
	assert.True(t, VeryLow.Worse(Severity("")))

	assert.True(t, High.AtLeast(High))
	assert.True(t, Critical.AtLeast(Medium))
	assert.False(t, Acceptable.AtLeast(Medium))
}
