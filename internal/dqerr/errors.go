// Package dqerr defines the error taxonomy shared by the risk engine.
package dqerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when weights, presets, comparisons,
	// confidence tiers, catalog records or lineage increments are invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidatorExecution is returned when a rule validator fails on a dataset.
	// The scanner never propagates it; the rule is marked skipped instead.
	ErrValidatorExecution = errors.New("validator execution failed")

	// ErrPersistence is returned when learned statistics cannot be written.
	// The in-memory catalog stays authoritative.
	ErrPersistence = errors.New("persistence failed")

	// ErrNumericalDegeneracy marks a computation that produced NaN or did not converge.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")
)

// ConfigError describes an invalid input. It matches ErrConfiguration with errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// Config builds a ConfigError for field with a formatted reason.
func Config(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidatorError wraps a failure raised while running a rule's validator.
type ValidatorError struct {
	RuleID string
	Err    error
}

func (e *ValidatorError) Error() string {
	return fmt.Sprintf("validator for rule %s failed: %v", e.RuleID, e.Err)
}

func (e *ValidatorError) Unwrap() []error { return []error{ErrValidatorExecution, e.Err} }

// Persistence wraps err so that it matches ErrPersistence.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
