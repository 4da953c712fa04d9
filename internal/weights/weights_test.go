package weights

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

func TestPresetsSumToOne(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			assert.NoError(t, p.Weights.Validate())
			assert.InDelta(t, 1.0, p.Weights.Sum(), SumTolerance)
			assert.NotEmpty(t, p.Rationale)
		})
	}
}

func TestGetPreset(t *testing.T) {
	tests := []struct {
		usage string
		want  string
	}{
		{"regulatory_payroll", "regulatory_payroll"},
		{"Regulatory Payroll", "regulatory_payroll"},
		{"paie-reglementaire", "regulatory_payroll"},
		{"monthly operational dashboard v2", "operational_dashboard"},
		{"audit", "compliance_audit"},
		{"Analytics Decisional", "decision_analytics"},
		{"reporting_social_annuel", "social_reporting"},
	}
	for _, tt := range tests {
		t.Run(tt.usage, func(t *testing.T) {
			p, err := GetPreset(tt.usage)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name)
		})
	}

	_, err := GetPreset("marketing campaign")
	assert.True(t, IsUnknownUsage(err))
	assert.True(t, errors.Is(err, dqerr.ErrConfiguration))

	_, err = GetPreset("  ")
	assert.True(t, IsUnknownUsage(err))
}

func TestVectorValidateAndNormalize(t *testing.T) {
	assert.NoError(t, Equal().Validate())

	err := Vector{DB: 0.5, DP: 0.5, BR: 0.5}.Validate()
	assert.True(t, dqerr.IsConfiguration(err))

	err = Vector{DB: 1.2, DP: -0.2}.Validate()
	assert.True(t, dqerr.IsConfiguration(err))

	n := Vector{DB: 2, DP: 1, BR: 1}.Normalize()
	assert.InDelta(t, 0.5, n.DB, 1e-12)
	assert.InDelta(t, 0.25, n.BR, 1e-12)
	assert.NoError(t, n.Validate())

	assert.Equal(t, Equal(), Vector{}.Normalize())
	assert.Equal(t, 0.6, Vector{UP: 0.6}.Get(catalog.UP))
}

func TestComputeFromConsistentComparisons(t *testing.T) {
	// derived from weights proportional to 8:4:2:1
	pairs := []Comparison{
		{A: catalog.DB, B: catalog.DP, Score: 2},
		{A: catalog.DB, B: catalog.BR, Score: 4},
		{A: catalog.DB, B: catalog.UP, Score: 8},
		{A: catalog.DP, B: catalog.BR, Score: 2},
		{A: catalog.DP, B: catalog.UP, Score: 4},
		{A: catalog.BR, B: catalog.UP, Score: 2},
	}
	res, err := ComputeFromComparisons(pairs)
	require.NoError(t, err)

	assert.Equal(t, MethodEigenvector, res.Method)
	assert.True(t, res.Consistent)
	assert.Empty(t, res.Warning)
	assert.Less(t, res.CR, ConsistencyThreshold)
	assert.InDelta(t, 4.0, res.LambdaMax, 1e-9)

	assert.InDelta(t, 8.0/15, res.Weights.DB, 1e-9)
	assert.InDelta(t, 4.0/15, res.Weights.DP, 1e-9)
	assert.InDelta(t, 2.0/15, res.Weights.BR, 1e-9)
	assert.InDelta(t, 1.0/15, res.Weights.UP, 1e-9)
	assert.NoError(t, res.Weights.Validate())

	assert.Equal(t, 0.5, res.Matrix[1][0])
}

func TestComputeFromPayrollJudgments(t *testing.T) {
	pairs := []Comparison{
		{A: catalog.DB, B: catalog.DP, Score: 2},
		{A: catalog.DB, B: catalog.BR, Score: 1.5},
		{A: catalog.DB, B: catalog.UP, Score: 5},
		{A: catalog.DP, B: catalog.BR, Score: 1},
		{A: catalog.DP, B: catalog.UP, Score: 3},
		{A: catalog.BR, B: catalog.UP, Score: 3},
	}
	res, err := ComputeFromComparisons(pairs)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.Weights.Sum(), SumTolerance)
	assert.True(t, res.Consistent)
	assert.Greater(t, res.Weights.DB, res.Weights.DP)
	assert.Greater(t, res.Weights.BR, res.Weights.UP)
	assert.Greater(t, res.Weights.DP, res.Weights.UP)
}

func TestInconsistentComparisonsWarn(t *testing.T) {
	pairs := []Comparison{
		{A: catalog.DB, B: catalog.DP, Score: 9},
		{A: catalog.DP, B: catalog.BR, Score: 9},
		{A: catalog.BR, B: catalog.DB, Score: 9},
	}
	res, err := ComputeFromComparisons(pairs)
	require.NoError(t, err)

	assert.False(t, res.Consistent)
	assert.NotEmpty(t, res.Warning)
	assert.Greater(t, res.CR, ConsistencyThreshold)
	assert.InDelta(t, 1.0, res.Weights.Sum(), SumTolerance)
}

func TestNoComparisonsGiveEqualWeights(t *testing.T) {
	res, err := ComputeFromComparisons(nil)
	require.NoError(t, err)
	for _, w := range res.Weights.Slice() {
		assert.InDelta(t, 0.25, w, 1e-9)
	}
	assert.InDelta(t, 0.0, res.CR, 1e-9)
	assert.Equal(t, MethodEigenvector, res.Method)
	assert.Empty(t, res.Warning)
}

func TestComparisonValidation(t *testing.T) {
	tests := []struct {
		name string
		pair Comparison
	}{
		{"UnknownDimension", Comparison{A: "XX", B: catalog.DB, Score: 2}},
		{"SelfComparison", Comparison{A: catalog.DB, B: catalog.DB, Score: 2}},
		{"ZeroScore", Comparison{A: catalog.DB, B: catalog.DP, Score: 0}},
		{"NegativeScore", Comparison{A: catalog.DB, B: catalog.DP, Score: -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeFromComparisons([]Comparison{tt.pair})
			assert.True(t, dqerr.IsConfiguration(err))
		})
	}
}

func TestGeometricMeanMatchesEigenvectorOnConsistentMatrix(t *testing.T) {
	m, err := ComparisonMatrix([]Comparison{
		{A: catalog.DB, B: catalog.DP, Score: 3},
		{A: catalog.DB, B: catalog.BR, Score: 3},
		{A: catalog.DB, B: catalog.UP, Score: 3},
	})
	require.NoError(t, err)

	w, lambda, ok := geometricMean(m)
	require.True(t, ok)
	assert.InDelta(t, 0.5, w[0], 1e-9)
	assert.InDelta(t, 4.0, lambda, 1e-9)
}
