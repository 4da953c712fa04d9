package rules

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/raaihank/dq-sentinel/internal/dataset"
)

// DefaultEmailPattern matches addresses of the form local@domain.tld.
const DefaultEmailPattern = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`

var errNoColumns = errors.New("no columns bound")

// rowSet accumulates violating row indices.
type rowSet map[int]struct{}

func (s rowSet) add(i int) { s[i] = struct{}{} }

func (s rowSet) sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// allRows flags every row of the dataset.
func allRows(ds *dataset.Dataset) []int {
	out := make([]int, ds.Len())
	for i := range out {
		out[i] = i
	}
	return out
}

// columns resolves the "columns" parameter, falling back to "column".
func columns(ds *dataset.Dataset, p Params) ([][]any, error) {
	names := p.Strings("columns")
	if len(names) == 0 {
		names = p.Strings("column")
	}
	if len(names) == 0 {
		return nil, errNoColumns
	}
	out := make([][]any, 0, len(names))
	for _, name := range names {
		col, ok := ds.Column(name)
		if !ok {
			return nil, fmt.Errorf("column not found: %s", name)
		}
		out = append(out, col)
	}
	return out, nil
}

// column resolves a single named column parameter.
func column(ds *dataset.Dataset, p Params, key string) ([]any, error) {
	name := p.String(key, "")
	if name == "" {
		return nil, fmt.Errorf("missing parameter: %s", key)
	}
	col, ok := ds.Column(name)
	if !ok {
		return nil, fmt.Errorf("column not found: %s", name)
	}
	return col, nil
}

// eachCell applies flag to every cell of the bound columns.
func eachCell(ds *dataset.Dataset, p Params, flag func(v any) bool) ([]int, error) {
	cols, err := columns(ds, p)
	if err != nil {
		return nil, err
	}
	rows := rowSet{}
	for _, col := range cols {
		for i, v := range col {
			if flag(v) {
				rows.add(i)
			}
		}
	}
	return rows.sorted(), nil
}

func nullCheck(ds *dataset.Dataset, p Params) ([]int, error) {
	return eachCell(ds, p, isNull)
}

// pkUnique flags every occurrence of a duplicated key.
func pkUnique(ds *dataset.Dataset, p Params) ([]int, error) {
	cols, err := columns(ds, p)
	if err != nil {
		return nil, err
	}
	seen := make(map[string][]int, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		parts := make([]string, len(cols))
		for c, col := range cols {
			parts[c] = toText(col[i])
		}
		key := strings.Join(parts, "\x1f")
		seen[key] = append(seen[key], i)
	}
	rows := rowSet{}
	for _, idx := range seen {
		if len(idx) > 1 {
			for _, i := range idx {
				rows.add(i)
			}
		}
	}
	return rows.sorted(), nil
}

func emailFormat(ds *dataset.Dataset, p Params) ([]int, error) {
	re, err := regexp.Compile(p.String("pattern", DefaultEmailPattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return eachCell(ds, p, func(v any) bool {
		return !isNull(v) && !re.MatchString(toText(v))
	})
}

func patternCheck(ds *dataset.Dataset, p Params) ([]int, error) {
	expr := p.String("pattern", "")
	if expr == "" {
		return nil, errors.New("missing parameter: pattern")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return eachCell(ds, p, func(v any) bool {
		return !isNull(v) && !re.MatchString(toText(v))
	})
}

// enumCheck flags values outside valid_values.
func enumCheck(ds *dataset.Dataset, p Params) ([]int, error) {
	valid := p.Strings("valid_values")
	if len(valid) == 0 {
		return nil, errors.New("missing parameter: valid_values")
	}
	ignoreCase, err := p.Bool("ignore_case", false)
	if err != nil {
		return nil, err
	}
	key := func(s string) string {
		s = strings.TrimSpace(s)
		if ignoreCase {
			return strings.ToLower(s)
		}
		return s
	}
	allowed := make(map[string]bool, len(valid))
	for _, v := range valid {
		allowed[key(v)] = true
	}
	return eachCell(ds, p, func(v any) bool {
		return !isNull(v) && !allowed[key(toText(v))]
	})
}

func noNegative(ds *dataset.Dataset, p Params) ([]int, error) {
	return eachCell(ds, p, func(v any) bool {
		f, ok := toFloat(v)
		return ok && f < 0
	})
}

// noZero flags zero or missing denominators.
func noZero(ds *dataset.Dataset, p Params) ([]int, error) {
	return eachCell(ds, p, func(v any) bool {
		if isNull(v) {
			return true
		}
		f, ok := toFloat(v)
		return ok && f == 0
	})
}

// typeCheck flags non-null values that cannot be read as the expected type.
func typeCheck(ds *dataset.Dataset, p Params) ([]int, error) {
	expected := p.String("expected", "numeric")
	var ok func(v any) bool
	switch expected {
	case "numeric":
		ok = func(v any) bool { _, fine := toFloat(v); return fine }
	case "integer":
		ok = func(v any) bool {
			f, fine := toFloat(v)
			return fine && f == math.Trunc(f)
		}
	case "date":
		ok = func(v any) bool { _, fine := toTime(v); return fine }
	default:
		return nil, fmt.Errorf("unsupported expected type: %s", expected)
	}
	return eachCell(ds, p, func(v any) bool {
		return !isNull(v) && !ok(v)
	})
}

func lengthCheck(ds *dataset.Dataset, p Params) ([]int, error) {
	minLen, err := p.Int("min_length", 0)
	if err != nil {
		return nil, err
	}
	maxLen, err := p.Int("max_length", math.MaxInt)
	if err != nil {
		return nil, err
	}
	return eachCell(ds, p, func(v any) bool {
		if isNull(v) {
			return false
		}
		n := utf8.RuneCountInString(toText(v))
		return n < minLen || n > maxLen
	})
}

// rangeCheck flags numeric values outside [min, max].
func rangeCheck(ds *dataset.Dataset, p Params) ([]int, error) {
	lo, err := p.Float("min", 0)
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", 100)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, fmt.Errorf("min %.4g greater than max %.4g", lo, hi)
	}
	return eachCell(ds, p, func(v any) bool {
		f, ok := toFloat(v)
		return ok && (f < lo || f > hi)
	})
}

// temporalOrder flags rows whose start date is after their end date.
func temporalOrder(ds *dataset.Dataset, p Params) ([]int, error) {
	start, err := column(ds, p, "start_column")
	if err != nil {
		return nil, err
	}
	end, err := column(ds, p, "end_column")
	if err != nil {
		return nil, err
	}
	rows := rowSet{}
	for i := range start {
		s, ok1 := toTime(start[i])
		e, ok2 := toTime(end[i])
		if ok1 && ok2 && s.After(e) {
			rows.add(i)
		}
	}
	return rows.sorted(), nil
}

// forbiddenCombination flags rows where every column holds its forbidden value.
func forbiddenCombination(ds *dataset.Dataset, p Params) ([]int, error) {
	combo, err := p.StringMap("combination")
	if err != nil {
		return nil, err
	}
	if len(combo) == 0 {
		return nil, errors.New("missing parameter: combination")
	}
	type cond struct {
		col   []any
		value string
	}
	conds := make([]cond, 0, len(combo))
	for name, value := range combo {
		col, ok := ds.Column(name)
		if !ok {
			return nil, fmt.Errorf("column not found: %s", name)
		}
		conds = append(conds, cond{col: col, value: strings.TrimSpace(value)})
	}
	rows := rowSet{}
	for i := 0; i < ds.Len(); i++ {
		match := true
		for _, c := range conds {
			if isNull(c.col[i]) || toText(c.col[i]) != c.value {
				match = false
				break
			}
		}
		if match {
			rows.add(i)
		}
	}
	return rows.sorted(), nil
}

// conditionalRequired flags rows where the condition holds and the required column is missing.
func conditionalRequired(ds *dataset.Dataset, p Params) ([]int, error) {
	cond, err := column(ds, p, "condition_column")
	if err != nil {
		return nil, err
	}
	required, err := column(ds, p, "required_column")
	if err != nil {
		return nil, err
	}
	values := p.Strings("condition_value")
	if len(values) == 0 {
		return nil, errors.New("missing parameter: condition_value")
	}
	rows := rowSet{}
	for i := range cond {
		if isNull(cond[i]) || !containsText(values, toText(cond[i])) {
			continue
		}
		if isNull(required[i]) {
			rows.add(i)
		}
	}
	return rows.sorted(), nil
}

// derivedCalc flags rows where target differs from the operation over operands.
func derivedCalc(ds *dataset.Dataset, p Params) ([]int, error) {
	target, err := column(ds, p, "target")
	if err != nil {
		return nil, err
	}
	names := p.Strings("operands")
	if len(names) < 2 {
		return nil, errors.New("derived_calc needs at least two operands")
	}
	operands := make([][]any, len(names))
	for i, name := range names {
		col, ok := ds.Column(name)
		if !ok {
			return nil, fmt.Errorf("column not found: %s", name)
		}
		operands[i] = col
	}
	tolerance, err := p.Float("tolerance", 0.01)
	if err != nil {
		return nil, err
	}
	op := p.String("operation", "product")
	switch op {
	case "product", "sum", "difference", "ratio":
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}

	rows := rowSet{}
	for i := range target {
		want, ok := toFloat(target[i])
		if !ok {
			continue
		}
		values := make([]float64, len(operands))
		complete := true
		for j, col := range operands {
			if values[j], ok = toFloat(col[i]); !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		got := values[0]
		for _, v := range values[1:] {
			switch op {
			case "product":
				got *= v
			case "sum":
				got += v
			case "difference":
				got -= v
			case "ratio":
				if v == 0 {
					complete = false
				} else {
					got /= v
				}
			}
		}
		if !complete {
			continue
		}
		if math.Abs(want-got) > tolerance*math.Max(1, math.Abs(got)) {
			rows.add(i)
		}
	}
	return rows.sorted(), nil
}

// freshness flags dates older than max_age_days relative to the registry clock.
func (r *Registry) freshness(ds *dataset.Dataset, p Params) ([]int, error) {
	maxAge, err := p.Float("max_age_days", 365)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-time.Duration(maxAge * float64(24*time.Hour)))
	return eachCell(ds, p, func(v any) bool {
		t, ok := toTime(v)
		return ok && t.Before(cutoff)
	})
}

// granularityMax flags the whole column when it is too fine-grained for aggregate use.
func granularityMax(ds *dataset.Dataset, p Params) ([]int, error) {
	limit, err := p.Float("max_unique_ratio", 0.9)
	if err != nil {
		return nil, err
	}
	cols, err := columns(ds, p)
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		distinct, total := distinctCount(col)
		if total > 0 && float64(distinct)/float64(total) > limit {
			return allRows(ds), nil
		}
	}
	return nil, nil
}

// granularityMin flags the whole column when it has too few distinct values.
func granularityMin(ds *dataset.Dataset, p Params) ([]int, error) {
	minDistinct, err := p.Int("min_distinct", 2)
	if err != nil {
		return nil, err
	}
	cols, err := columns(ds, p)
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		distinct, total := distinctCount(col)
		if total > 0 && distinct < minDistinct {
			return allRows(ds), nil
		}
	}
	return nil, nil
}

// outlierIQR flags values beyond factor interquartile ranges from the quartiles.
func outlierIQR(ds *dataset.Dataset, p Params) ([]int, error) {
	factor, err := p.Float("factor", 1.5)
	if err != nil {
		return nil, err
	}
	cols, err := columns(ds, p)
	if err != nil {
		return nil, err
	}
	rows := rowSet{}
	for _, col := range cols {
		var values []float64
		for _, v := range col {
			if f, ok := toFloat(v); ok {
				values = append(values, f)
			}
		}
		if len(values) < 4 {
			continue
		}
		sort.Float64s(values)
		q1, q3 := quantile(values, 0.25), quantile(values, 0.75)
		iqr := q3 - q1
		lo, hi := q1-factor*iqr, q3+factor*iqr
		for i, v := range col {
			if f, ok := toFloat(v); ok && (f < lo || f > hi) {
				rows.add(i)
			}
		}
	}
	return rows.sorted(), nil
}

// typeMix flags non-numeric values in a mostly numeric column.
func typeMix(ds *dataset.Dataset, p Params) ([]int, error) {
	cols, err := columns(ds, p)
	if err != nil {
		return nil, err
	}
	rows := rowSet{}
	for _, col := range cols {
		numeric, text := 0, 0
		for _, v := range col {
			if isNull(v) {
				continue
			}
			if _, ok := toFloat(v); ok {
				numeric++
			} else {
				text++
			}
		}
		if numeric == 0 || text == 0 || numeric < text {
			continue
		}
		for i, v := range col {
			if _, ok := toFloat(v); !ok && !isNull(v) {
				rows.add(i)
			}
		}
	}
	return rows.sorted(), nil
}

func distinctCount(col []any) (distinct, total int) {
	seen := make(map[string]struct{})
	for _, v := range col {
		if isNull(v) {
			continue
		}
		total++
		seen[toText(v)] = struct{}{}
	}
	return len(seen), total
}

// quantile uses linear interpolation over sorted values.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

func containsText(values []string, s string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == s {
			return true
		}
	}
	return false
}
