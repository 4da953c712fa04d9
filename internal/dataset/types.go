package dataset

import (
	"path/filepath"
	"strings"
	"time"
)

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// LoaderConfig contains dataset loading configuration
type LoaderConfig struct {
	MaxRows        int           `yaml:"max_rows" mapstructure:"max_rows"`               // 0 = unlimited
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // rows read between cancellation checks
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // 5m
	TrimSpace      bool          `yaml:"trim_space" mapstructure:"trim_space"`           // true
	NullTokens     []string      `yaml:"null_tokens" mapstructure:"null_tokens"`         // "", "NA", "null"
	Comma          string        `yaml:"comma" mapstructure:"comma"`                     // ","
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 10000
}

// DefaultLoaderConfig returns the loader defaults.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		BatchSize:      1000,
		Timeout:        5 * time.Minute,
		TrimSpace:      true,
		NullTokens:     []string{"", "NA", "N/A", "null", "NULL"},
		Comma:          ",",
		ProgressReport: 10000,
	}
}

// LoadResult summarizes a file load
type LoadResult struct {
	Path     string        `json:"path"`
	Format   FileFormat    `json:"format"`
	Rows     int           `json:"rows"`
	Columns  int           `json:"columns"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Errors   []string      `json:"errors,omitempty"`
}
