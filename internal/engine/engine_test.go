package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/config"
	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/logger"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

func fileConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Learning.Backend = "file"
	cfg.Learning.FilePath = filepath.Join(t.TempDir(), "learned.json")
	return cfg
}

func TestEnginePersistsLearnedStatsOnClose(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)

	e, err := New(ctx, cfg, nil, logger.Nop())
	require.NoError(t, err)

	ds := dataset.FromRecords([]map[string]any{
		{"id": "1", "email": "a@b.io", "amount": "-3"},
		{"id": "1", "email": "broken", "amount": "4"},
	})
	_, err = e.Analyzer.Analyze(ctx, ds, analysis.Request{Budget: scanner.Deep, Usages: []string{"audit"}})
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))

	data, err := os.ReadFile(cfg.Learning.FilePath)
	require.NoError(t, err)
	var stats map[string]learning.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	require.NotEmpty(t, stats)

	scanned := 0
	for _, s := range stats {
		assert.True(t, s.Valid())
		scanned += s.ScanCount
	}
	assert.Positive(t, scanned)

	// a second engine starts from the persisted counters
	e2, err := New(ctx, cfg, nil, logger.Nop())
	require.NoError(t, err)
	defer e2.Close(ctx)
	for id, s := range stats {
		r, ok := e2.Catalog.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, s.ScanCount, r.Learned.ScanCount, id)
	}
}

func TestEngineImportsRulesAtStartup(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetDefaults()
	cfg.Learning.Backend = "memory"

	csvPath := filepath.Join(t.TempDir(), "extra.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,dimension,criticality,detection_mode,rule_type,role\nX#1,DB,LOW,Auto,null_check,all\n"), 0o600))
	cfg.Catalog.ImportPath = csvPath

	e, err := New(ctx, cfg, nil, logger.Nop())
	require.NoError(t, err)
	defer e.Close(ctx)

	_, ok := e.Catalog.Get("X#1")
	assert.True(t, ok)

	// the same file again collides with the ids already loaded
	_, err = e.ImportFile(csvPath)
	assert.Error(t, err)
}

func TestEngineRejectsBadSetup(t *testing.T) {
	ctx := context.Background()

	cfg := config.GetDefaults()
	cfg.Learning.Backend = "memory"
	cfg.Catalog.DefinitionPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(ctx, cfg, nil, logger.Nop())
	assert.Error(t, err)

	cfg = config.GetDefaults()
	cfg.Learning.Backend = "memory"
	cfg.Catalog.ImportPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err = New(ctx, cfg, nil, logger.Nop())
	assert.Error(t, err)

	cfg = config.GetDefaults()
	cfg.Learning.Backend = "cassandra"
	_, err = New(ctx, cfg, nil, logger.Nop())
	assert.Error(t, err)
}
