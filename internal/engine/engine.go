// Package engine assembles the risk engine from configuration. The service
// and the CLI share it.
package engine

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/config"
	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/logger"
	"github.com/raaihank/dq-sentinel/internal/rules"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

// Engine holds the wired components.
type Engine struct {
	Catalog  *catalog.Catalog
	Scanner  *scanner.Scanner
	Analyzer *analysis.Analyzer
	Loader   *dataset.Loader

	flusher *learning.Flusher
	logger  *logger.Logger
}

// New loads the catalog with its learned statistics and wires the scanner
// and analyzer. sink may be nil.
func New(ctx context.Context, cfg *config.Config, sink analysis.EventSink, log *logger.Logger) (*Engine, error) {
	backend, err := learning.NewBackend(&cfg.Learning, log.WithComponent("learning").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open learning backend: %w", err)
	}

	def, err := loadDefinition(cfg.Catalog.DefinitionPath)
	if err != nil {
		backend.Close()
		return nil, err
	}

	cat, err := catalog.Load(ctx, def, rules.NewRegistry(), backend, log.WithComponent("catalog").Logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	if cfg.Catalog.ImportPath != "" {
		if _, err := importFile(cat, cfg.Catalog.ImportPath); err != nil {
			backend.Close()
			return nil, err
		}
	}

	flusher := learning.NewFlusher(backend, cat.LearnedSnapshot, cfg.Learning.FlushInterval, log.WithComponent("learning").Logger)
	cat.SetScheduler(flusher)

	ac, err := cfg.AnalysisConfig()
	if err != nil {
		backend.Close()
		return nil, err
	}

	sc := scanner.New(cat, cfg.ScannerConfig(), log.WithComponent("scanner").Logger)
	e := &Engine{
		Catalog:  cat,
		Scanner:  sc,
		Analyzer: analysis.New(sc, cat, sink, ac, log.WithComponent("analysis").Logger),
		Loader:   dataset.NewLoader(cfg.Dataset, log.WithComponent("dataset").Logger),
		flusher:  flusher,
		logger:   log,
	}

	summary := cat.Summary()
	log.Info("Risk engine ready",
		zap.Int("rules", summary.Total),
		zap.Int("rule_types", len(cat.RuleTypes())),
		zap.String("learning_backend", cfg.Learning.Backend),
		zap.String("default_budget", string(ac.DefaultBudget)),
	)
	return e, nil
}

func loadDefinition(path string) (*catalog.Definition, error) {
	if path == "" {
		return catalog.DefaultDefinition()
	}
	def, err := catalog.LoadDefinitionFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog definition %s: %w", path, err)
	}
	return def, nil
}

// ImportFile reads a CSV of rule records and adds them to the catalog.
func (e *Engine) ImportFile(path string) (int, error) {
	return importFile(e.Catalog, path)
}

func importFile(cat *catalog.Catalog, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open rule import: %w", err)
	}
	defer f.Close()

	records, err := catalog.ReadRecordsCSV(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if err := cat.ImportRules(records); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return len(records), nil
}

// Close writes the learned statistics a last time and closes the backend.
func (e *Engine) Close(ctx context.Context) error {
	return e.flusher.Close(ctx)
}
