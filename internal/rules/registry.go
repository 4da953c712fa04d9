// Package rules implements the data-quality validators that rule types resolve to.
package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raaihank/dq-sentinel/internal/dataset"
)

// Validator runs one check against a dataset and returns the indices of
// violating rows, sorted and unique.
type Validator interface {
	Validate(ds *dataset.Dataset, p Params) ([]int, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ds *dataset.Dataset, p Params) ([]int, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ds *dataset.Dataset, p Params) ([]int, error) {
	return f(ds, p)
}

// Registry maps validator tags to implementations.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
	now        func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the reference clock used by time-relative validators.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a registry holding every built-in validator.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		validators: make(map[string]Validator),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a validator.
func (r *Registry) Register(tag string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[tag] = v
}

// Lookup returns the validator registered under tag.
func (r *Registry) Lookup(tag string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[tag]
	if !ok {
		return nil, fmt.Errorf("unknown validator: %s", tag)
	}
	return v, nil
}

// Tags lists registered validator tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.validators))
	for tag := range r.validators {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *Registry) registerBuiltins() {
	builtins := map[string]ValidatorFunc{
		"null_check":            nullCheck,
		"pk_unique":             pkUnique,
		"email_format":          emailFormat,
		"enum":                  enumCheck,
		"no_negative":           noNegative,
		"no_zero":               noZero,
		"type_check":            typeCheck,
		"pattern":               patternCheck,
		"length":                lengthCheck,
		"range":                 rangeCheck,
		"temporal_order":        temporalOrder,
		"forbidden_combination": forbiddenCombination,
		"conditional_required":  conditionalRequired,
		"derived_calc":          derivedCalc,
		"freshness":             r.freshness,
		"granularity_max":       granularityMax,
		"granularity_min":       granularityMin,
		"outlier_iqr":           outlierIQR,
		"type_mix":              typeMix,
	}
	for tag, fn := range builtins {
		r.validators[tag] = fn
	}
}
