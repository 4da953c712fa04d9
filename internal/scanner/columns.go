package scanner

import (
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/rules"
)

// Column roles understood by the built-in catalog.
const (
	RoleAll         = "all"
	RoleKey         = "key"
	RoleEmail       = "email"
	RoleDate        = "date"
	RoleNumeric     = "numeric"
	RoleCategorical = "categorical"
	RolePercentage  = "percentage"
	RoleAge         = "age"
	RoleSalary      = "salary"
	RoleText        = "text"
)

// ColumnConfig binds rule roles to dataset columns and carries per-rule parameter overrides.
type ColumnConfig struct {
	Roles     map[string][]string     `yaml:"roles" json:"roles"`
	Overrides map[string]rules.Params `yaml:"overrides" json:"overrides"`
}

// Merge returns c overlaid with other. Roles and overrides in other win.
func (c ColumnConfig) Merge(other ColumnConfig) ColumnConfig {
	out := ColumnConfig{
		Roles:     make(map[string][]string, len(c.Roles)+len(other.Roles)),
		Overrides: make(map[string]rules.Params, len(c.Overrides)+len(other.Overrides)),
	}
	for k, v := range c.Roles {
		out.Roles[k] = v
	}
	for k, v := range other.Roles {
		out.Roles[k] = v
	}
	for k, v := range c.Overrides {
		out.Overrides[k] = v
	}
	for k, v := range other.Overrides {
		out.Overrides[k] = out.Overrides[k].Merge(v)
	}
	return out
}

var roleKeywords = map[string][]string{
	RoleKey:        {"id", "matricule", "code", "key", "pk"},
	RoleEmail:      {"email", "mail", "courriel"},
	RoleDate:       {"date", "datetime", "time", "jour", "mois"},
	RoleNumeric:    {"age", "anciennete", "salaire", "salary", "montant", "amount", "prix", "price", "quantite", "quantity"},
	RolePercentage: {"pct", "percent", "percentage", "taux", "rate", "ratio"},
	RoleAge:        {"age"},
	RoleSalary:     {"salaire", "salary"},
}

// AutoDetect assigns roles from column names. A column matches a role when
// one of its name tokens equals a role keyword. Columns that are not keys,
// emails or dates and repeat their values become categorical.
func AutoDetect(ds *dataset.Dataset) ColumnConfig {
	cfg := ColumnConfig{
		Roles:     map[string][]string{},
		Overrides: map[string]rules.Params{},
	}
	for _, name := range ds.Columns() {
		cfg.Roles[RoleAll] = append(cfg.Roles[RoleAll], name)

		tokens := tokenize(name)
		matched := map[string]bool{}
		for role, keywords := range roleKeywords {
			if hasAny(tokens, keywords) {
				matched[role] = true
			}
		}
		for _, role := range []string{RoleKey, RoleEmail, RoleDate, RoleNumeric, RolePercentage, RoleAge, RoleSalary} {
			if matched[role] {
				cfg.Roles[role] = append(cfg.Roles[role], name)
			}
		}

		if !matched[RoleKey] && !matched[RoleEmail] && !matched[RoleDate] && !matched[RoleNumeric] && isCategorical(ds, name) {
			cfg.Roles[RoleCategorical] = append(cfg.Roles[RoleCategorical], name)
		}
	}
	return cfg
}

func tokenize(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasAny(tokens, keywords []string) bool {
	for _, t := range tokens {
		for _, k := range keywords {
			if t == k {
				return true
			}
		}
	}
	return false
}

// isCategorical reports whether a column has at most half as many distinct values as rows.
func isCategorical(ds *dataset.Dataset, name string) bool {
	col, ok := ds.Column(name)
	if !ok || len(col) == 0 {
		return false
	}
	seen := map[string]struct{}{}
	total := 0
	for _, v := range col {
		if v == nil {
			continue
		}
		total++
		seen[strings.TrimSpace(cast.ToString(v))] = struct{}{}
	}
	return total > 0 && len(seen)*2 <= total
}
