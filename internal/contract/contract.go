// Package contract renders scanned rules as an open data-contract quality section.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/rules"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

// Document version emitted in apiVersion.
const APIVersion = "v3.0.0"

// Format selects the rendering of a document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat parses an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJSON:
		return f, nil
	}
	return "", dqerr.Config("format", "unknown output format %q (must be yaml or json)", s)
}

// Entry is one quality expectation on a column.
type Entry struct {
	Column            string              `json:"column,omitempty" yaml:"column,omitempty"`
	Type              string              `json:"type" yaml:"type"`
	Validator         string              `json:"validator" yaml:"validator"`
	Metric            string              `json:"metric" yaml:"metric"`
	ThresholdOperator string              `json:"thresholdOperator" yaml:"thresholdOperator"`
	ThresholdValue    float64             `json:"thresholdValue" yaml:"thresholdValue"`
	Unit              string              `json:"unit,omitempty" yaml:"unit,omitempty"`
	Description       string              `json:"description" yaml:"description"`
	RuleID            string              `json:"ruleId" yaml:"ruleId"`
	Dimension         catalog.Dimension   `json:"dimension" yaml:"dimension"`
	Criticality       catalog.Criticality `json:"criticality" yaml:"criticality"`
	Observed          int                 `json:"observedViolations" yaml:"observedViolations"`
}

// Document is a data contract carrying only its quality section.
type Document struct {
	APIVersion  string    `json:"apiVersion" yaml:"apiVersion"`
	Kind        string    `json:"kind" yaml:"kind"`
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string    `json:"version" yaml:"version"`
	Status      string    `json:"status" yaml:"status"`
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`
	Quality     []Entry   `json:"quality" yaml:"quality"`
}

// Catalog is the rule lookup used to describe scanned rules.
type Catalog interface {
	Get(id string) (catalog.Rule, bool)
	RuleType(name string) (*catalog.RuleType, bool)
}

// Options identify the generated contract.
type Options struct {
	ID      string
	Name    string
	Version string
	Now     func() time.Time
}

// Build turns the rules that ran in results into contract entries, one per
// bound column. Skipped and unbound rules are left out.
func Build(cat Catalog, results map[catalog.Dimension]*scanner.ScanResult, opts Options) *Document {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	doc := &Document{
		APIVersion:  APIVersion,
		Kind:        "DataContract",
		ID:          opts.ID,
		Name:        opts.Name,
		Version:     opts.Version,
		Status:      "proposed",
		GeneratedAt: opts.Now().UTC(),
		Quality:     []Entry{},
	}

	for _, dim := range catalog.Dimensions {
		res, ok := results[dim]
		if !ok || res == nil {
			continue
		}
		for _, o := range res.Outcomes {
			if o.Status != scanner.StatusDetected && o.Status != scanner.StatusClean {
				continue
			}
			rule, ok := cat.Get(o.RuleID)
			if !ok {
				continue
			}
			rt, ok := cat.RuleType(rule.RuleType)
			if !ok {
				continue
			}
			doc.Quality = append(doc.Quality, Entries(rule, rt, o.Params, o.AffectedRows)...)
		}
	}
	return doc
}

// Entries maps one bound rule to its contract entries.
func Entries(rule catalog.Rule, rt *catalog.RuleType, params rules.Params, observed int) []Entry {
	threshold := rt.Export.Threshold
	if rt.Export.ThresholdParam != "" {
		if v, err := params.Float(rt.Export.ThresholdParam, threshold); err == nil {
			threshold = v
		}
	}
	description := rule.Description
	if description == "" {
		description = rule.Name
	}

	base := Entry{
		Type:              rt.Export.Type,
		Validator:         rt.Validator,
		Metric:            rt.Export.Metric,
		ThresholdOperator: rt.Export.Operator,
		ThresholdValue:    threshold,
		Unit:              rt.Export.Unit,
		Description:       description,
		RuleID:            rule.ID,
		Dimension:         rule.Dimension,
		Criticality:       rule.Criticality,
		Observed:          observed,
	}

	cols := boundColumns(params)
	out := make([]Entry, 0, len(cols))
	for _, c := range cols {
		e := base
		e.Column = c
		out = append(out, e)
	}
	return out
}

// boundColumns returns the columns a rule was evaluated on, or a single
// empty column for dataset-level rules.
func boundColumns(p rules.Params) []string {
	if cols := p.Strings("columns"); len(cols) > 0 {
		return cols
	}
	for _, key := range []string{"column", "target", "start_column", "required_column"} {
		if c := p.String(key, ""); c != "" {
			return []string{c}
		}
	}
	return []string{""}
}

// Render encodes the document.
func (d *Document) Render(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	case FormatYAML, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("failed to encode contract: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode contract: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, dqerr.Config("format", "unknown output format %q", format)
}
