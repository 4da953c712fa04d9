package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore persists learned statistics as a JSON object keyed by rule id.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a JSON file backend. The file is created on first save.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("learning file path is empty")
	}
	return &FileStore{path: path, logger: logger}, nil
}

func (f *FileStore) Load(ctx context.Context) (map[string]Stats, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Info("No learned statistics file, starting fresh", zap.String("path", f.path))
		return map[string]Stats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read learned statistics: %w", err)
	}

	stats := make(map[string]Stats)
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse learned statistics: %w", err)
	}

	f.logger.Debug("Learned statistics loaded", zap.String("path", f.path), zap.Int("rules", len(stats)))
	return stats, nil
}

// Save writes to a temporary file and renames it over the target.
func (f *FileStore) Save(ctx context.Context, stats map[string]Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode learned statistics: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".learned-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace learned statistics: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
