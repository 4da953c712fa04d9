package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/dq-sentinel/internal/dataset"
)

func employees(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(
		[]string{"id", "email", "status", "salary", "bonus_rate", "bonus", "hired", "left", "contract", "end_reason", "score"},
		[][]any{
			{"1", "ann@corp.io", "active", "3000", "0.1", "300", "2020-01-01", "2021-01-01", "CDD", "transfer", "10"},
			{"2", "bad-email", "active", "-5", "0.1", "1", "2021-06-01", "2020-01-01", "CDD", nil, "12"},
			{"2", nil, "unknown", "abc", "0", "0", "not a date", nil, "CDI", nil, "11"},
			{"4", "dan@corp.io", nil, "4000", nil, "400", "2019-03-01", nil, "CDI", nil, "500"},
		},
	)
	require.NoError(t, err)
	return ds
}

func TestBuiltinValidators(t *testing.T) {
	ds := employees(t)
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	reg := NewRegistry(WithClock(clock))

	tests := []struct {
		name   string
		tag    string
		params Params
		want   []int
	}{
		{"NullCheck", "null_check", Params{"columns": []string{"email", "status"}}, []int{2, 3}},
		{"PrimaryKeyDuplicatesKeepAll", "pk_unique", Params{"columns": []string{"id"}}, []int{1, 2}},
		{"EmailFormatIgnoresNulls", "email_format", Params{"columns": []string{"email"}}, []int{1}},
		{"Enum", "enum", Params{"column": "status", "valid_values": []string{"active", "inactive"}}, []int{2}},
		{"EnumIgnoreCase", "enum", Params{"column": "status", "valid_values": []string{"ACTIVE", "Unknown"}, "ignore_case": "true"}, []int{}},
		{"NoNegative", "no_negative", Params{"columns": []string{"salary"}}, []int{1}},
		{"NoZeroIncludesNull", "no_zero", Params{"columns": []string{"bonus_rate"}}, []int{2, 3}},
		{"TypeCheckNumeric", "type_check", Params{"columns": []string{"salary"}, "expected": "numeric"}, []int{2}},
		{"TypeCheckDate", "type_check", Params{"columns": []string{"hired"}, "expected": "date"}, []int{2}},
		{"Range", "range", Params{"columns": []string{"score"}, "min": 0, "max": 100}, []int{3}},
		{"TemporalOrder", "temporal_order", Params{"start_column": "hired", "end_column": "left"}, []int{1}},
		{"ForbiddenCombination", "forbidden_combination", Params{"combination": map[string]any{"contract": "CDI", "status": "unknown"}}, []int{2}},
		{"ConditionalRequired", "conditional_required", Params{"condition_column": "contract", "condition_value": "CDD", "required_column": "end_reason"}, []int{1}},
		{"DerivedProduct", "derived_calc", Params{"target": "bonus", "operands": []string{"salary", "bonus_rate"}, "operation": "product"}, []int{1}},
		{"Freshness", "freshness", Params{"columns": []string{"hired"}, "max_age_days": 365 * 3}, []int{0, 3}},
		{"Pattern", "pattern", Params{"columns": []string{"id"}, "pattern": "^[0-3]$"}, []int{3}},
		{"Length", "length", Params{"columns": []string{"status"}, "max_length": 6}, []int{2}},
		{"OutlierIQR", "outlier_iqr", Params{"columns": []string{"score"}}, []int{3}},
		{"TypeMix", "type_mix", Params{"columns": []string{"salary"}}, []int{2}},
		{"GranularityMaxFlagsAllRows", "granularity_max", Params{"columns": []string{"email"}}, []int{0, 1, 2, 3}},
		{"GranularityMinPasses", "granularity_min", Params{"columns": []string{"contract"}}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := reg.Lookup(tt.tag)
			require.NoError(t, err)

			got, err := v.Validate(ds, tt.params)
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatorFailures(t *testing.T) {
	ds := employees(t)
	reg := NewRegistry()

	tests := []struct {
		name   string
		tag    string
		params Params
	}{
		{"MissingColumn", "null_check", Params{"columns": []string{"nope"}}},
		{"NoColumnsBound", "null_check", Params{}},
		{"EnumWithoutValues", "enum", Params{"columns": []string{"status"}}},
		{"BadPattern", "pattern", Params{"columns": []string{"id"}, "pattern": "("}},
		{"InvertedRange", "range", Params{"columns": []string{"score"}, "min": 10, "max": 1}},
		{"UnknownOperation", "derived_calc", Params{"target": "bonus", "operands": []string{"salary", "bonus_rate"}, "operation": "pow"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := reg.Lookup(tt.tag)
			require.NoError(t, err)
			_, err = v.Validate(ds, tt.params)
			assert.Error(t, err)
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Lookup("does_not_exist")
	assert.Error(t, err)

	reg.Register("always", ValidatorFunc(func(ds *dataset.Dataset, p Params) ([]int, error) {
		return []int{0}, nil
	}))
	v, err := reg.Lookup("always")
	require.NoError(t, err)
	got, err := v.Validate(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got)
	assert.Contains(t, reg.Tags(), "null_check")
}

func TestParams(t *testing.T) {
	p := Params{"a": "x", "list": []any{"1", "2"}, "n": "3.5", "empty": ""}

	assert.True(t, p.Has("a"))
	assert.False(t, p.Has("empty"))
	assert.Equal(t, []string{"x"}, p.Strings("a"))
	assert.Equal(t, []string{"1", "2"}, p.Strings("list"))

	f, err := p.Float("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)

	_, err = p.Float("a", 0)
	assert.Error(t, err)

	b, err := Params{"flag": "true"}.Bool("flag", false)
	require.NoError(t, err)
	assert.True(t, b)
	b, err = p.Bool("missing", true)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = p.Bool("a", false)
	assert.Error(t, err)

	merged := p.Merge(Params{"a": "y"})
	assert.Equal(t, "y", merged.String("a", ""))
	assert.Equal(t, "x", p.String("a", ""))
}
