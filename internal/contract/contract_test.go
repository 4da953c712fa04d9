package contract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/rules"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

type fakeCatalog struct {
	rules map[string]catalog.Rule
	types map[string]*catalog.RuleType
}

func (f fakeCatalog) Get(id string) (catalog.Rule, bool) {
	r, ok := f.rules[id]
	return r, ok
}

func (f fakeCatalog) RuleType(name string) (*catalog.RuleType, bool) {
	rt, ok := f.types[name]
	return rt, ok
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		rules: map[string]catalog.Rule{
			"DB#1": {ID: "DB#1", Dimension: catalog.DB, Name: "Missing values", Description: "Null cells", Criticality: catalog.Critical, RuleType: "null_check"},
			"UP#1": {ID: "UP#1", Dimension: catalog.UP, Name: "Stale data", Criticality: catalog.High, RuleType: "freshness"},
			"BR#1": {ID: "BR#1", Dimension: catalog.BR, Name: "Order", Criticality: catalog.High, RuleType: "temporal_order"},
		},
		types: map[string]*catalog.RuleType{
			"null_check": {Name: "null_check", Validator: "null_check", Export: catalog.ExportMapping{Type: "library", Metric: "nullValues", Operator: "mustBe", Unit: "rows"}},
			"freshness": {Name: "freshness", Validator: "freshness", Export: catalog.ExportMapping{
				Type: "custom", Metric: "dataAge", Operator: "mustBeLessThan", Threshold: 365, ThresholdParam: "max_age_days", Unit: "days",
			}},
			"temporal_order": {Name: "temporal_order", Validator: "temporal_order", Export: catalog.ExportMapping{Type: "custom", Metric: "temporalInversions", Operator: "mustBe"}},
		},
	}
}

func testResults() map[catalog.Dimension]*scanner.ScanResult {
	return map[catalog.Dimension]*scanner.ScanResult{
		catalog.DB: {Outcomes: []scanner.RuleOutcome{
			{RuleID: "DB#1", Status: scanner.StatusDetected, AffectedRows: 2, Params: rules.Params{"columns": []string{"id", "email"}}},
			{RuleID: "DB#9", Status: scanner.StatusSkipped},
		}},
		catalog.UP: {Outcomes: []scanner.RuleOutcome{
			{RuleID: "UP#1", Status: scanner.StatusClean, Params: rules.Params{"columns": []string{"hired_at"}, "max_age_days": 30}},
		}},
		catalog.BR: {Outcomes: []scanner.RuleOutcome{
			{RuleID: "BR#1", Status: scanner.StatusClean, Params: rules.Params{"start_column": "start", "end_column": "end"}},
		}},
	}
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := Build(testCatalog(), testResults(), Options{ID: "payroll", Now: func() time.Time { return now }})

	assert.Equal(t, APIVersion, doc.APIVersion)
	assert.Equal(t, "1.0.0", doc.Version)
	assert.Equal(t, now, doc.GeneratedAt)
	require.Len(t, doc.Quality, 4)

	// canonical dimension order: DB, DP, BR, UP
	assert.Equal(t, "id", doc.Quality[0].Column)
	assert.Equal(t, "email", doc.Quality[1].Column)
	assert.Equal(t, 2, doc.Quality[0].Observed)
	assert.Equal(t, "Null cells", doc.Quality[0].Description)
	assert.Equal(t, "start", doc.Quality[2].Column)

	fresh := doc.Quality[3]
	assert.Equal(t, "hired_at", fresh.Column)
	assert.Equal(t, 30.0, fresh.ThresholdValue)
	assert.Equal(t, "mustBeLessThan", fresh.ThresholdOperator)
	assert.Equal(t, "Stale data", fresh.Description)
	assert.Equal(t, catalog.UP, fresh.Dimension)
}

func TestRender(t *testing.T) {
	doc := Build(testCatalog(), testResults(), Options{ID: "payroll", Name: "Payroll extract"})

	out, err := doc.Render(FormatJSON)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "DataContract", decoded["kind"])
	assert.Len(t, decoded["quality"], 4)

	out, err = doc.Render(FormatYAML)
	require.NoError(t, err)
	var fromYAML struct {
		APIVersion string           `yaml:"apiVersion"`
		Quality    []map[string]any `yaml:"quality"`
	}
	require.NoError(t, yaml.Unmarshal(out, &fromYAML))
	assert.Equal(t, APIVersion, fromYAML.APIVersion)
	require.Len(t, fromYAML.Quality, 4)
	assert.Equal(t, "nullValues", fromYAML.Quality[0]["metric"])

	_, err = doc.Render("xml")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("csv")
	assert.Error(t, err)
}
