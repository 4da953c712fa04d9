package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/dqerr"
	"github.com/raaihank/dq-sentinel/internal/estimator"
	"github.com/raaihank/dq-sentinel/internal/lineage"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/dq-sentinel/")
	v.AddConfigPath("$HOME/.dq-sentinel/")

	// Environment variable overrides, e.g. DQ_SERVER_PORT
	v.SetEnvPrefix("DQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, GetDefaults())

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}
	config.v = v
	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults registers every scalar key so that environment overrides
// are seen by Unmarshal even when no config file sets them.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"server.port":                    d.Server.Port,
		"server.read_timeout":            d.Server.ReadTimeout,
		"server.write_timeout":           d.Server.WriteTimeout,
		"server.idle_timeout":            d.Server.IdleTimeout,
		"server.max_body_bytes":          d.Server.MaxBodyBytes,
		"logging.level":                  d.Logging.Level,
		"logging.format":                 d.Logging.Format,
		"logging.file.enabled":           d.Logging.File.Enabled,
		"logging.file.path":              d.Logging.File.Path,
		"catalog.definition_path":        d.Catalog.DefinitionPath,
		"catalog.import_path":            d.Catalog.ImportPath,
		"learning.backend":               d.Learning.Backend,
		"learning.file_path":             d.Learning.FilePath,
		"learning.database_url":          d.Learning.DatabaseURL,
		"learning.redis_url":             d.Learning.RedisURL,
		"learning.key_prefix":            d.Learning.KeyPrefix,
		"learning.flush_interval":        d.Learning.FlushInterval,
		"learning.timeout":               d.Learning.Timeout,
		"dataset.max_rows":               d.Dataset.MaxRows,
		"dataset.batch_size":             d.Dataset.BatchSize,
		"dataset.timeout":                d.Dataset.Timeout,
		"dataset.comma":                  d.Dataset.Comma,
		"scan.default_budget":            d.Scan.DefaultBudget,
		"scan.limits.quick":              d.Scan.Limits.Quick,
		"scan.limits.standard":           d.Scan.Limits.Standard,
		"scan.count_skipped_as_scanned":  d.Scan.CountSkippedAsScanned,
		"estimator.auto_confidence":      d.Estimator.AutoConfidence,
		"estimator.reestimation_tier":    d.Estimator.ReestimationTier,
		"lineage.pipeline_file":          d.Lineage.PipelineFile,
		"websocket.enabled":              d.WebSocket.Enabled,
		"websocket.path":                 d.WebSocket.Path,
		"rate_limit.enabled":             d.RateLimit.Enabled,
		"rate_limit.requests_per_second": d.RateLimit.RequestsPerSecond,
		"rate_limit.burst":               d.RateLimit.Burst,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	switch config.Learning.Backend {
	case "", "memory", "file", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("invalid learning backend: %s (must be memory, file, sqlite, postgres, or redis)", config.Learning.Backend)
	}

	if _, err := scanner.ParseBudget(config.Scan.DefaultBudget); err != nil {
		return err
	}
	if l := config.Scan.Limits; l.Quick <= 0 || l.Standard < l.Quick {
		return fmt.Errorf("invalid scan limits: quick=%d standard=%d (need 0 < quick <= standard)", l.Quick, l.Standard)
	}

	if _, err := config.Tiers(); err != nil {
		return err
	}
	if _, err := estimator.ParseTier(config.Estimator.ReestimationTier); err != nil {
		return err
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %.2f req/s burst %d", config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}

	return nil
}

// Tiers converts the configured confidence tiers.
func (c *Config) Tiers() (map[catalog.Dimension]estimator.Tier, error) {
	out := make(map[catalog.Dimension]estimator.Tier, len(c.Estimator.Tiers))
	for key, value := range c.Estimator.Tiers {
		dim, err := catalog.ParseDimension(key)
		if err != nil {
			return nil, err
		}
		tier, err := estimator.ParseTier(value)
		if err != nil {
			return nil, err
		}
		out[dim] = tier
	}
	return out, nil
}

// ScannerConfig returns the dimension scanner settings.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		Limits:                c.Scan.Limits,
		CountSkippedAsScanned: c.Scan.CountSkippedAsScanned,
	}
}

// AnalysisConfig resolves the analysis defaults, reading the pipeline file if set.
func (c *Config) AnalysisConfig() (analysis.Config, error) {
	ac := analysis.DefaultConfig()

	budget, err := scanner.ParseBudget(c.Scan.DefaultBudget)
	if err != nil {
		return ac, err
	}
	ac.DefaultBudget = budget

	tiers, err := c.Tiers()
	if err != nil {
		return ac, err
	}
	merged := make(map[catalog.Dimension]estimator.Tier, len(estimator.DefaultTiers))
	for dim, t := range estimator.DefaultTiers {
		merged[dim] = t
	}
	for dim, t := range tiers {
		merged[dim] = t
	}
	ac.Tiers = merged
	ac.AutoConfidence = c.Estimator.AutoConfidence

	if ac.ReestimationTier, err = estimator.ParseTier(c.Estimator.ReestimationTier); err != nil {
		return ac, err
	}

	if c.Lineage.PipelineFile != "" {
		stages, err := lineage.LoadStages(c.Lineage.PipelineFile)
		if err != nil {
			return ac, dqerr.Config("lineage", "pipeline %s: %v", c.Lineage.PipelineFile, err)
		}
		ac.Pipeline = stages
	}

	return ac, nil
}

// Watch starts watching the configuration file for changes. Invalid
// revisions are reported to onError and otherwise ignored.
func Watch(config *Config, callback func(*Config), onError func(error)) error {
	if config.v == nil || config.v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v := config.v
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		newConfig.v = v
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
