// Package catalog holds the rule catalog: rule types, rules and their learned statistics.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/rules"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Scheduler is notified whenever learned statistics change.
type Scheduler interface {
	Schedule()
}

// Catalog is safe for concurrent use. Rules are never removed.
type Catalog struct {
	mu        sync.RWMutex
	ruleTypes map[string]*RuleType
	rules     []*Rule
	byID      map[string]*Rule
	persisted map[string]learning.Stats
	scheduler Scheduler
	logger    *zap.Logger
}

// DefaultDefinition parses the catalog shipped with the binary.
func DefaultDefinition() (*Definition, error) {
	return ParseDefinition(defaultCatalog)
}

// ParseDefinition parses a YAML catalog definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dqerr.Config("catalog", "invalid definition: %v", err)
	}
	return &def, nil
}

// LoadDefinitionFile reads a YAML catalog definition from disk.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog definition: %w", err)
	}
	return ParseDefinition(data)
}

// Load builds a catalog from def, resolving validators from reg and merging
// the learned statistics held by backend. Rules without stored statistics start at zero.
func Load(ctx context.Context, def *Definition, reg *rules.Registry, backend learning.Backend, logger *zap.Logger) (*Catalog, error) {
	c := &Catalog{
		ruleTypes: make(map[string]*RuleType, len(def.RuleTypes)),
		byID:      make(map[string]*Rule, len(def.Rules)),
		persisted: map[string]learning.Stats{},
		logger:    logger,
	}

	for i := range def.RuleTypes {
		rt := def.RuleTypes[i]
		if rt.Name == "" {
			return nil, dqerr.Config("rule_types", "rule type %d has no name", i)
		}
		if _, exists := c.ruleTypes[rt.Name]; exists {
			return nil, dqerr.Config("rule_types", "duplicate rule type %s", rt.Name)
		}
		impl, err := reg.Lookup(rt.Validator)
		if err != nil {
			return nil, dqerr.Config("rule_types", "rule type %s: %v", rt.Name, err)
		}
		rt.impl = impl
		c.ruleTypes[rt.Name] = &rt
	}

	if backend != nil {
		stats, err := backend.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load learned statistics: %w", err)
		}
		for id, st := range stats {
			if !st.Valid() {
				logger.Warn("Ignoring inconsistent learned statistics", zap.String("rule_id", id))
				continue
			}
			c.persisted[id] = st
		}
	}

	if err := c.ImportRules(def.Rules); err != nil {
		return nil, err
	}

	matched := 0
	for _, r := range c.rules {
		if _, ok := c.persisted[r.ID]; ok {
			matched++
		}
	}

	logger.Info("Rule catalog loaded",
		zap.Int("rule_types", len(c.ruleTypes)),
		zap.Int("rules", len(c.rules)),
		zap.Int("learned", matched))

	return c, nil
}

// SetScheduler attaches the component that persists learned statistics.
func (c *Catalog) SetScheduler(s Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = s
}

// buildRule validates a record against the known rule types.
func (c *Catalog) buildRule(rec RuleRecord) (*Rule, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return nil, dqerr.Config("id", "rule id is empty")
	}
	dim, err := ParseDimension(rec.Dimension)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	crit, err := ParseCriticality(rec.Criticality)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	mode, err := ParseDetectionMode(rec.DetectionMode)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	if _, ok := c.ruleTypes[rec.RuleType]; !ok {
		return nil, dqerr.Config("rule_type", "rule %s references unknown rule type %q", id, rec.RuleType)
	}

	rule := &Rule{
		ID:            id,
		Dimension:     dim,
		Name:          rec.Name,
		Description:   rec.Description,
		Criticality:   crit,
		DetectionMode: mode,
		RuleType:      rec.RuleType,
		Role:          rec.Role,
		Params:        rules.Params(rec.Params),
	}
	if st, ok := c.persisted[id]; ok {
		rule.Learned = st
	}
	return rule, nil
}

// ImportRules appends records atomically: on any invalid record nothing is added.
func (c *Catalog) ImportRules(records []RuleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	built := make([]*Rule, 0, len(records))
	batch := make(map[string]bool, len(records))
	for _, rec := range records {
		rule, err := c.buildRule(rec)
		if err != nil {
			return err
		}
		if _, exists := c.byID[rule.ID]; exists || batch[rule.ID] {
			return dqerr.Config("id", "duplicate rule id %s", rule.ID)
		}
		batch[rule.ID] = true
		built = append(built, rule)
	}

	for _, rule := range built {
		c.rules = append(c.rules, rule)
		c.byID[rule.ID] = rule
	}
	return nil
}

// RegisterRule adds a single rule with the same checks as ImportRules.
func (c *Catalog) RegisterRule(rec RuleRecord) error {
	return c.ImportRules([]RuleRecord{rec})
}

// RecordScan updates the learned statistics of a rule after a scan.
func (c *Catalog) RecordScan(id string, detected bool) error {
	c.mu.Lock()
	rule, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown rule: %s", id)
	}
	rule.Learned.Record(detected)
	scheduler := c.scheduler
	c.mu.Unlock()

	if scheduler != nil {
		scheduler.Schedule()
	}
	return nil
}

// Get returns a copy of the rule with the given id.
func (c *Catalog) Get(id string) (Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// RuleType returns the named rule type.
func (c *Catalog) RuleType(name string) (*RuleType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.ruleTypes[name]
	return rt, ok
}

// RuleTypes returns every rule type sorted by name.
func (c *Catalog) RuleTypes() []*RuleType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*RuleType, 0, len(c.ruleTypes))
	for _, rt := range c.ruleTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rules returns copies of every rule in catalog order.
func (c *Catalog) Rules() []Rule {
	return c.filter(func(*Rule) bool { return true })
}

// GetByDimension returns the rules of one dimension.
func (c *Catalog) GetByDimension(dim Dimension) []Rule {
	return c.filter(func(r *Rule) bool { return r.Dimension == dim })
}

// GetByRuleType returns the rules bound to one rule type.
func (c *Catalog) GetByRuleType(name string) []Rule {
	return c.filter(func(r *Rule) bool { return r.RuleType == name })
}

// AutoRules returns a snapshot of the automatically executable rules of a dimension.
func (c *Catalog) AutoRules(dim Dimension) []Rule {
	return c.filter(func(r *Rule) bool { return r.Dimension == dim && r.DetectionMode == Auto })
}

func (c *Catalog) filter(keep func(*Rule) bool) []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Rule
	for _, r := range c.rules {
		if keep(r) {
			cp := *r
			out = append(out, cp)
		}
	}
	return out
}

// LearnedSnapshot returns the learned statistics of every rule, including
// persisted entries for rules not present in this catalog.
func (c *Catalog) LearnedSnapshot() map[string]learning.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]learning.Stats, len(c.persisted)+len(c.rules))
	for id, st := range c.persisted {
		out[id] = st
	}
	for _, r := range c.rules {
		out[r.ID] = r.Learned
	}
	return out
}

// Summary counts rules per dimension and detection mode.
func (c *Catalog) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Summary{
		Total:       len(c.rules),
		ByDimension: make(map[Dimension]int),
		ByMode:      make(map[DetectionMode]int),
		Matrix:      make(map[Dimension]map[DetectionMode]int),
	}
	for _, r := range c.rules {
		s.ByDimension[r.Dimension]++
		s.ByMode[r.DetectionMode]++
		if s.Matrix[r.Dimension] == nil {
			s.Matrix[r.Dimension] = make(map[DetectionMode]int)
		}
		s.Matrix[r.Dimension][r.DetectionMode]++
	}
	return s
}
