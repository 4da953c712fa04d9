package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/raaihank/dq-sentinel/internal/dataset"
	"github.com/raaihank/dq-sentinel/internal/learning"
	"github.com/raaihank/dq-sentinel/internal/scanner"
	"github.com/raaihank/dq-sentinel/internal/websocket"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig         `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig        `yaml:"logging" mapstructure:"logging"`
	Catalog   CatalogConfig        `yaml:"catalog" mapstructure:"catalog"`
	Learning  learning.Config      `yaml:"learning" mapstructure:"learning"`
	Dataset   dataset.LoaderConfig `yaml:"dataset" mapstructure:"dataset"`
	Scan      ScanConfig           `yaml:"scan" mapstructure:"scan"`
	Estimator EstimatorConfig      `yaml:"estimator" mapstructure:"estimator"`
	Lineage   LineageConfig        `yaml:"lineage" mapstructure:"lineage"`
	WebSocket WebSocketConfig      `yaml:"websocket" mapstructure:"websocket"`
	RateLimit RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`

	v *viper.Viper
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	// MaxBodyBytes caps inline datasets posted to the API.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// CatalogConfig points at the rule catalog definition.
type CatalogConfig struct {
	// DefinitionPath is a YAML catalog; empty loads the embedded default.
	DefinitionPath string `yaml:"definition_path" mapstructure:"definition_path"`
	// ImportPath is an optional CSV of extra rules loaded at startup.
	ImportPath string `yaml:"import_path" mapstructure:"import_path"`
}

// ScanConfig contains dimension scanner configuration
type ScanConfig struct {
	DefaultBudget         string               `yaml:"default_budget" mapstructure:"default_budget"`
	Limits                scanner.BudgetLimits `yaml:"limits" mapstructure:"limits"`
	CountSkippedAsScanned bool                 `yaml:"count_skipped_as_scanned" mapstructure:"count_skipped_as_scanned"`
}

// EstimatorConfig contains Beta estimation defaults
type EstimatorConfig struct {
	// Tiers maps a dimension code to HIGH, MEDIUM or LOW. Dimensions left
	// out keep their built-in tier.
	Tiers            map[string]string `yaml:"tiers" mapstructure:"tiers"`
	AutoConfidence   bool              `yaml:"auto_confidence" mapstructure:"auto_confidence"`
	ReestimationTier string            `yaml:"reestimation_tier" mapstructure:"reestimation_tier"`
}

// LineageConfig contains pipeline simulation defaults
type LineageConfig struct {
	// PipelineFile is a YAML list of stages; empty uses the built-in pipeline.
	PipelineFile string `yaml:"pipeline_file" mapstructure:"pipeline_file"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled bool                `yaml:"enabled" mapstructure:"enabled"`
	Path    string              `yaml:"path" mapstructure:"path"`
	Events  websocket.HubConfig `yaml:"events" mapstructure:"events"`
}

// RateLimitConfig contains per-client API rate limiting
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 32 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Learning: learning.Config{
			Backend:       "file",
			FilePath:      "data/learned_stats.json",
			KeyPrefix:     "dq:learned",
			MaxOpenConns:  4,
			MaxIdleConns:  2,
			FlushInterval: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Dataset: dataset.DefaultLoaderConfig(),
		Scan: ScanConfig{
			DefaultBudget:         string(scanner.Standard),
			Limits:                scanner.DefaultBudgetLimits(),
			CountSkippedAsScanned: true,
		},
		Estimator: EstimatorConfig{
			ReestimationTier: "MEDIUM",
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Path:    "/ws",
			Events: websocket.HubConfig{
				BroadcastAnalyses:    true,
				BroadcastScans:       true,
				BroadcastSystem:      true,
				BroadcastConnections: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             20,
			IdleTTL:           time.Hour,
		},
	}
	cfg.Logging.File.Path = "logs/dq-sentinel.log"
	return cfg
}
