package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/rules"
)

func testRegistry() *rules.Registry {
	reg := rules.NewRegistry()
	reg.Register("boom", rules.ValidatorFunc(func(ds *dataset.Dataset, p rules.Params) ([]int, error) {
		return nil, errors.New("exploded")
	}))
	reg.Register("panic", rules.ValidatorFunc(func(ds *dataset.Dataset, p rules.Params) ([]int, error) {
		panic("unexpected")
	}))
	return reg
}

var testRuleTypes = []catalog.RuleType{
	{Name: "null_check", Validator: "null_check", Requires: []string{"columns"}},
	{Name: "no_negative", Validator: "no_negative", Requires: []string{"columns"}},
	{Name: "enum", Validator: "enum", Requires: []string{"columns", "valid_values"}},
	{Name: "boom", Validator: "boom"},
	{Name: "panic", Validator: "panic"},
}

func newCatalog(t *testing.T, records []catalog.RuleRecord, stats map[string]learning.Stats) *catalog.Catalog {
	t.Helper()
	def := &catalog.Definition{RuleTypes: testRuleTypes, Rules: records}
	c, err := catalog.Load(context.Background(), def, testRegistry(), learning.NewMemoryStore(stats), zap.NewNop())
	require.NoError(t, err)
	return c
}

func rec(id, dim, crit, mode, ruleType, role string) catalog.RuleRecord {
	return catalog.RuleRecord{ID: id, Dimension: dim, Criticality: crit, DetectionMode: mode, RuleType: ruleType, Role: role}
}

func payroll(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]string{"id", "email", "salary", "status"}, [][]any{
		{"1", "a@x.io", "100", "active"},
		{"2", nil, "-4", "active"},
		{"3", "c@x.io", "-1", nil},
		{"4", "d@x.io", "50", "active"},
	})
	require.NoError(t, err)
	return ds
}

func TestPriorityScore(t *testing.T) {
	tests := []struct {
		name string
		rule catalog.Rule
		want float64
	}{
		{"CriticalUnlearned", catalog.Rule{Criticality: catalog.Critical}, 100},
		{"LowUnlearned", catalog.Rule{Criticality: catalog.Low}, 6.25},
		{"BelowThresholdIgnoresFrequency", catalog.Rule{Criticality: catalog.High, Learned: learning.Stats{ScanCount: 2, DetectionCount: 0}}, 56.25},
		{"LearnedFrequency", catalog.Rule{Criticality: catalog.High, Learned: learning.Stats{ScanCount: 4, DetectionCount: 2, Frequency: 0.5}}, 37.5},
		{"NeverFires", catalog.Rule{Criticality: catalog.Critical, Learned: learning.Stats{ScanCount: 10}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PriorityScore(tt.rule), 1e-9)
		})
	}
}

func TestRankBreaksTiesByID(t *testing.T) {
	in := []catalog.Rule{
		{ID: "B", Criticality: catalog.High},
		{ID: "A", Criticality: catalog.High},
		{ID: "C", Criticality: catalog.Critical},
		{ID: "D", Criticality: catalog.Low},
	}
	ranked := Rank(in)

	ids := []string{}
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"C", "A", "B", "D"}, ids)
	assert.Equal(t, "B", in[0].ID)
}

func TestRankOrdersNumericIDsNaturally(t *testing.T) {
	var in []catalog.Rule
	for _, id := range []string{"DB#10", "DP#1", "DB#2", "DB#1", "DB#002", "DB#x"} {
		in = append(in, catalog.Rule{ID: id, Criticality: catalog.Medium})
	}

	ids := []string{}
	for _, r := range Rank(in) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"DB#1", "DB#002", "DB#2", "DB#10", "DB#x", "DP#1"}, ids)
}

func TestQuickBudgetRunsExactlyTopFive(t *testing.T) {
	crits := []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	var records []catalog.RuleRecord
	for i := 0; i < 60; i++ {
		records = append(records, rec(fmt.Sprintf("DB#%02d", i), "DB", crits[i%4], "Auto", "null_check", "all"))
	}
	records = append(records, rec("DB#manual", "DB", "CRITICAL", "Manual", "null_check", "all"))
	cat := newCatalog(t, records, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())

	res, err := s.Scan(context.Background(), payroll(t), catalog.DB, Quick, AutoDetect(payroll(t)))
	require.NoError(t, err)

	assert.Equal(t, 5, res.RulesScanned)
	require.Len(t, res.Outcomes, 5)
	want := []string{"DB#03", "DB#07", "DB#11", "DB#15", "DB#19"}
	for i, o := range res.Outcomes {
		assert.Equal(t, want[i], o.RuleID)
	}

	std, err := s.Scan(context.Background(), payroll(t), catalog.DB, Standard, AutoDetect(payroll(t)))
	require.NoError(t, err)
	assert.Equal(t, 10, std.RulesScanned)

	deep := s.Plan(catalog.DB, Deep)
	assert.Len(t, deep, 60)
}

func TestErrorRateIsUnionOfRows(t *testing.T) {
	cat := newCatalog(t, []catalog.RuleRecord{
		rec("DB#1", "DB", "CRITICAL", "Auto", "null_check", "all"),
		rec("DB#2", "DB", "HIGH", "Auto", "no_negative", "numeric"),
	}, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	cols := ColumnConfig{Roles: map[string][]string{"all": {"id", "email", "salary", "status"}, "numeric": {"salary"}}}

	res, err := s.Scan(context.Background(), payroll(t), catalog.DB, Deep, cols)
	require.NoError(t, err)

	// nulls on rows 1 and 2, negatives on rows 1 and 2
	assert.Equal(t, 2, res.TotalAffectedRows)
	assert.Equal(t, 4, res.TotalRows)
	assert.InDelta(t, 0.5, res.ErrorRate, 1e-12)
	assert.ElementsMatch(t, []string{"DB#1", "DB#2"}, res.RulesDetected)

	r, _ := cat.Get("DB#1")
	assert.Equal(t, learning.Stats{ScanCount: 1, DetectionCount: 1, Frequency: 1}, r.Learned)
}

func TestValidatorFailuresAreSkipped(t *testing.T) {
	cat := newCatalog(t, []catalog.RuleRecord{
		rec("BR#1", "BR", "CRITICAL", "Auto", "boom", ""),
		rec("BR#2", "BR", "CRITICAL", "Auto", "panic", ""),
		rec("BR#3", "BR", "HIGH", "Auto", "no_negative", "numeric"),
		rec("BR#4", "BR", "HIGH", "Auto", "null_check", "missing_role"),
		rec("BR#5", "BR", "LOW", "Auto", "null_check", "ghost"),
	}, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	cols := ColumnConfig{
		Roles:     map[string][]string{"numeric": {"salary"}, "ghost": {"not_a_column"}},
		Overrides: nil,
	}

	res, err := s.Scan(context.Background(), payroll(t), catalog.BR, Deep, cols)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"BR#1", "BR#2", "BR#5"}, res.RulesSkipped)
	assert.Equal(t, []string{"BR#3"}, res.RulesDetected)
	assert.Equal(t, []string{"BR#4"}, res.RulesNotApplicable)
	assert.Equal(t, 4, res.RulesScanned)
	assert.InDelta(t, 0.5, res.ErrorRate, 1e-12)

	skipped, _ := cat.Get("BR#1")
	assert.Equal(t, 1, skipped.Learned.ScanCount)
	assert.Equal(t, 0, skipped.Learned.DetectionCount)

	notApplicable, _ := cat.Get("BR#4")
	assert.Equal(t, 0, notApplicable.Learned.ScanCount)

	t.Run("SkippedNotRecordedWhenDisabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CountSkippedAsScanned = false
		s := New(cat, cfg, zap.NewNop())
		_, err := s.Scan(context.Background(), payroll(t), catalog.BR, Deep, cols)
		require.NoError(t, err)

		skipped, _ := cat.Get("BR#1")
		assert.Equal(t, 1, skipped.Learned.ScanCount)
	})
}

func TestOverridesBindParameters(t *testing.T) {
	cat := newCatalog(t, []catalog.RuleRecord{
		rec("DB#4", "DB", "HIGH", "Auto", "enum", "categorical"),
	}, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	cols := ColumnConfig{
		Roles:     map[string][]string{"categorical": {"status"}},
		Overrides: map[string]rules.Params{"DB#4": {"valid_values": []string{"inactive"}}},
	}

	res, err := s.Scan(context.Background(), payroll(t), catalog.DB, Deep, cols)
	require.NoError(t, err)
	assert.Equal(t, []string{"DB#4"}, res.RulesDetected)
	assert.Equal(t, 3, res.TotalAffectedRows)

	noOverride, err := s.Scan(context.Background(), payroll(t), catalog.DB, Deep, ColumnConfig{Roles: cols.Roles})
	require.NoError(t, err)
	assert.Equal(t, []string{"DB#4"}, noOverride.RulesNotApplicable)
}

func TestEmptyDatasetHasZeroErrorRate(t *testing.T) {
	cat := newCatalog(t, []catalog.RuleRecord{rec("UP#1", "UP", "HIGH", "Auto", "null_check", "all")}, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	empty, err := dataset.New([]string{"a"}, nil)
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), empty, catalog.UP, Quick, AutoDetect(empty))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.ErrorRate)
	assert.Equal(t, 0, res.TotalRows)
}

func TestDeepScanIsIdempotent(t *testing.T) {
	cat := newCatalog(t, []catalog.RuleRecord{
		rec("DB#1", "DB", "CRITICAL", "Auto", "null_check", "all"),
		rec("DB#2", "DB", "LOW", "Auto", "no_negative", "numeric"),
		rec("DB#3", "DB", "MEDIUM", "Auto", "null_check", "numeric"),
	}, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	ds := payroll(t)
	cols := AutoDetect(ds)

	first, err := s.Scan(context.Background(), ds, catalog.DB, Deep, cols)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		again, err := s.Scan(context.Background(), ds, catalog.DB, Deep, cols)
		require.NoError(t, err)
		assert.ElementsMatch(t, first.RulesDetected, again.RulesDetected)
		assert.Equal(t, first.ErrorRate, again.ErrorRate)
	}
}

func TestScanAll(t *testing.T) {
	var records []catalog.RuleRecord
	for _, dim := range []string{"DB", "DP", "BR", "UP"} {
		records = append(records,
			rec(dim+"#1", dim, "HIGH", "Auto", "null_check", "all"),
			rec(dim+"#2", dim, "LOW", "Auto", "no_negative", "numeric"))
	}
	cat := newCatalog(t, records, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	ds := payroll(t)

	results, err := s.ScanAll(context.Background(), ds, nil, Deep, AutoDetect(ds))
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, dim := range catalog.Dimensions {
		assert.Equal(t, 2, results[dim].RulesScanned, dim)
		r, _ := cat.Get(string(dim) + "#1")
		assert.Equal(t, 1, r.Learned.ScanCount)
	}

	rates := ErrorRates(results)
	assert.InDelta(t, 0.5, rates[catalog.UP], 1e-12)
	assert.Len(t, DetectedRules(results), 8)
}

func TestScanRejectsBadInput(t *testing.T) {
	cat := newCatalog(t, nil, nil)
	s := New(cat, DefaultConfig(), zap.NewNop())
	ds := payroll(t)

	_, err := s.Scan(context.Background(), ds, catalog.DB, Budget("HUGE"), ColumnConfig{})
	assert.Error(t, err)
	_, err = s.Scan(context.Background(), nil, catalog.DB, Quick, ColumnConfig{})
	assert.Error(t, err)

	records := []catalog.RuleRecord{rec("DB#1", "DB", "HIGH", "Auto", "null_check", "all")}
	cat = newCatalog(t, records, nil)
	s = New(cat, DefaultConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scan(ctx, ds, catalog.DB, Quick, AutoDetect(ds))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoDetect(t *testing.T) {
	ds, err := dataset.New(
		[]string{"matricule", "email_pro", "date_entree", "salaire", "age", "taux_activite", "service"},
		[][]any{
			{"1", "a@x.io", "2020-01-01", "100", "30", "80", "RH"},
			{"2", "b@x.io", "2020-01-02", "200", "40", "90", "RH"},
			{"3", "c@x.io", "2020-01-03", "300", "50", "70", "IT"},
			{"4", "d@x.io", "2020-01-04", "400", "60", "60", "IT"},
		})
	require.NoError(t, err)

	cfg := AutoDetect(ds)
	assert.Equal(t, []string{"matricule"}, cfg.Roles[RoleKey])
	assert.Equal(t, []string{"email_pro"}, cfg.Roles[RoleEmail])
	assert.Equal(t, []string{"date_entree"}, cfg.Roles[RoleDate])
	assert.Equal(t, []string{"salaire", "age"}, cfg.Roles[RoleNumeric])
	assert.Equal(t, []string{"age"}, cfg.Roles[RoleAge])
	assert.Equal(t, []string{"taux_activite"}, cfg.Roles[RolePercentage])
	assert.Equal(t, []string{"service"}, cfg.Roles[RoleCategorical])
	assert.Len(t, cfg.Roles[RoleAll], 7)

	merged := cfg.Merge(ColumnConfig{Roles: map[string][]string{RoleKey: {"email_pro"}}})
	assert.Equal(t, []string{"email_pro"}, merged.Roles[RoleKey])
	assert.Equal(t, []string{"date_entree"}, merged.Roles[RoleDate])
}

func TestParseBudget(t *testing.T) {
	b, err := ParseBudget("quick")
	require.NoError(t, err)
	assert.Equal(t, Quick, b)
	_, err = ParseBudget("medium")
	assert.Error(t, err)
	assert.Equal(t, -1, DefaultBudgetLimits().Limit(Deep))
}
