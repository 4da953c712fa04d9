package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Params holds the bound parameters of one rule invocation.
type Params map[string]any

// Has reports whether key is present with a non-empty value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

// String returns key as a string, or def when absent.
func (p Params) String(key, def string) string {
	if !p.Has(key) {
		return def
	}
	return cast.ToString(p[key])
}

// Strings returns key as a string list. A single string becomes a one-element list.
func (p Params) Strings(key string) []string {
	if !p.Has(key) {
		return nil
	}
	if s, ok := p[key].(string); ok {
		return []string{s}
	}
	out, err := cast.ToStringSliceE(p[key])
	if err != nil {
		return nil
	}
	return out
}

// Float returns key as a float64, or def when absent. A malformed value is an error.
func (p Params) Float(key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	f, err := cast.ToFloat64E(p[key])
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return f, nil
}

// Int returns key as an int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	i, err := cast.ToIntE(p[key])
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return i, nil
}

// Bool returns key as a bool, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	b, err := cast.ToBoolE(p[key])
	if err != nil {
		return false, fmt.Errorf("param %s: %w", key, err)
	}
	return b, nil
}

// StringMap returns key as a map of strings.
func (p Params) StringMap(key string) (map[string]string, error) {
	if !p.Has(key) {
		return nil, nil
	}
	out, err := cast.ToStringMapStringE(p[key])
	if err != nil {
		return nil, fmt.Errorf("param %s: %w", key, err)
	}
	return out, nil
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// isNull reports whether a cell is missing.
func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	}
	return false
}

// toFloat coerces a cell to a number.
func toFloat(v any) (float64, bool) {
	if isNull(v) {
		return 0, false
	}
	if _, ok := v.(bool); ok {
		return 0, false
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toTime coerces a cell to a timestamp.
func toTime(v any) (time.Time, bool) {
	if isNull(v) {
		return time.Time{}, false
	}
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := cast.ToTimeE(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// toText renders a cell for comparisons.
func toText(v any) string {
	return strings.TrimSpace(cast.ToString(v))
}
