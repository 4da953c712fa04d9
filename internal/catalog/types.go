package catalog

import (
	"encoding/json"
	"strings"

	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/rules"
)

// Dimension is one of the four causal quality dimensions.
type Dimension string

const (
	// DB covers structural defects: nulls, duplicates, formats, domains.
	DB Dimension = "DB"
	// DP covers processing defects: derivations, conversions, divisions.
	DP Dimension = "DP"
	// BR covers business-rule violations.
	BR Dimension = "BR"
	// UP covers fitness for a particular usage.
	UP Dimension = "UP"
)

// Dimensions lists every dimension in canonical order.
var Dimensions = []Dimension{DB, DP, BR, UP}

// ParseDimension parses a dimension code, case-insensitively.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DB, DP, BR, UP:
		return d, nil
	}
	return "", dqerr.Config("dimension", "unknown dimension %q", s)
}

// Criticality ranks the business impact of a rule.
type Criticality string

const (
	Critical Criticality = "CRITICAL"
	High     Criticality = "HIGH"
	Medium   Criticality = "MEDIUM"
	Low      Criticality = "LOW"
)

// Impact maps a criticality to its numeric weight.
func (c Criticality) Impact() int {
	switch c {
	case Critical:
		return 100
	case High:
		return 75
	case Medium:
		return 50
	case Low:
		return 25
	}
	return 0
}

// ParseCriticality parses a criticality label, case-insensitively.
func ParseCriticality(s string) (Criticality, error) {
	c := Criticality(strings.ToUpper(strings.TrimSpace(s)))
	if c.Impact() == 0 {
		return "", dqerr.Config("criticality", "unknown criticality %q", s)
	}
	return c, nil
}

// DetectionMode says whether a rule can run unattended.
type DetectionMode string

const (
	Auto   DetectionMode = "Auto"
	Semi   DetectionMode = "Semi"
	Manual DetectionMode = "Manual"
)

// ParseDetectionMode parses a detection mode, case-insensitively.
func ParseDetectionMode(s string) (DetectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return Auto, nil
	case "semi":
		return Semi, nil
	case "manual", "manuel":
		return Manual, nil
	}
	return "", dqerr.Config("detection_mode", "unknown detection mode %q", s)
}

// ExportMapping describes how a rule type renders into a quality contract.
type ExportMapping struct {
	Type      string  `yaml:"type" json:"type"` // library or custom
	Metric    string  `yaml:"metric" json:"metric"`
	Operator  string  `yaml:"operator" json:"operator"` // mustBe, mustBeLessThan, mustBeGreaterThan, mustBeBetween
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// ThresholdParam names a rule parameter that overrides Threshold when bound.
	ThresholdParam string `yaml:"threshold_param" json:"threshold_param,omitempty"`
	Unit           string `yaml:"unit" json:"unit,omitempty"`
}

// RuleType is a reusable check with an executable validator.
type RuleType struct {
	Name      string        `yaml:"name" json:"name"`
	Category  string        `yaml:"category" json:"category"`
	Validator string        `yaml:"validator" json:"validator"`
	Requires  []string      `yaml:"requires" json:"requires"`
	Defaults  rules.Params  `yaml:"defaults" json:"defaults,omitempty"`
	Export    ExportMapping `yaml:"export" json:"export"`

	impl rules.Validator
}

// Impl returns the resolved validator.
func (t *RuleType) Impl() rules.Validator { return t.impl }

// Rule is one catalog entry.
type Rule struct {
	ID            string         `json:"id"`
	Dimension     Dimension      `json:"dimension"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Criticality   Criticality    `json:"criticality"`
	DetectionMode DetectionMode  `json:"detection_mode"`
	RuleType      string         `json:"rule_type"`
	Role          string         `json:"role,omitempty"`
	Params        rules.Params   `json:"params,omitempty"`
	Learned       learning.Stats `json:"learned"`
}

// RuleRecord is the declarative form of a rule, used by definitions and imports.
type RuleRecord struct {
	ID            string         `yaml:"id" json:"id"`
	Dimension     string         `yaml:"dimension" json:"dimension"`
	Name          string         `yaml:"name" json:"name"`
	Description   string         `yaml:"description" json:"description"`
	Criticality   string         `yaml:"criticality" json:"criticality"`
	DetectionMode string         `yaml:"detection_mode" json:"detection_mode"`
	RuleType      string         `yaml:"rule_type" json:"rule_type"`
	Role          string         `yaml:"role" json:"role,omitempty"`
	Params        map[string]any `yaml:"params" json:"params,omitempty"`
}

// UnmarshalJSON also accepts the detection and ruleType keys used by
// spreadsheet exports.
func (r *RuleRecord) UnmarshalJSON(data []byte) error {
	type plain RuleRecord
	var aux struct {
		plain
		Detection   string `json:"detection"`
		RuleTypeKey string `json:"ruleType"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RuleRecord(aux.plain)
	if r.DetectionMode == "" {
		r.DetectionMode = aux.Detection
	}
	if r.RuleType == "" {
		r.RuleType = aux.RuleTypeKey
	}
	return nil
}

// Definition is a complete declarative catalog.
type Definition struct {
	RuleTypes []RuleType   `yaml:"rule_types"`
	Rules     []RuleRecord `yaml:"rules"`
}

// Summary counts rules per dimension and detection mode.
type Summary struct {
	Total       int                                 `json:"total"`
	ByDimension map[Dimension]int                   `json:"by_dimension"`
	ByMode      map[DetectionMode]int               `json:"by_mode"`
	Matrix      map[Dimension]map[DetectionMode]int `json:"matrix"`
}
