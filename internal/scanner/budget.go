package scanner

import (
	"strings"

	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

// Budget bounds how many rules a scan may run.
type Budget string

const (
	Quick    Budget = "QUICK"
	Standard Budget = "STANDARD"
	Deep     Budget = "DEEP"
)

// ParseBudget parses a budget name, case-insensitively.
func ParseBudget(s string) (Budget, error) {
	b := Budget(strings.ToUpper(strings.TrimSpace(s)))
	switch b {
	case Quick, Standard, Deep:
		return b, nil
	}
	return "", dqerr.Config("budget", "unknown budget %q (must be QUICK, STANDARD or DEEP)", s)
}

// BudgetLimits holds the rule counts of the bounded budgets.
type BudgetLimits struct {
	Quick    int `yaml:"quick" mapstructure:"quick"`
	Standard int `yaml:"standard" mapstructure:"standard"`
}

// DefaultBudgetLimits returns top 5 for QUICK and top 10 for STANDARD.
func DefaultBudgetLimits() BudgetLimits {
	return BudgetLimits{Quick: 5, Standard: 10}
}

// Limit returns the number of rules allowed by b, or -1 for no limit.
func (l BudgetLimits) Limit(b Budget) int {
	switch b {
	case Quick:
		return l.Quick
	case Standard:
		return l.Standard
	}
	return -1
}
