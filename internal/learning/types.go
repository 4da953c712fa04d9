// Package learning persists how often each rule has fired across scans.
package learning

import (
	"context"
	"time"
)

// Stats holds the learned counters of one rule.
type Stats struct {
	ScanCount      int     `json:"scan_count" db:"scan_count" redis:"scan_count"`
	DetectionCount int     `json:"detection_count" db:"detection_count" redis:"detection_count"`
	Frequency      float64 `json:"frequency" db:"frequency" redis:"frequency"`
}

// Record counts one scan of the rule.
func (s *Stats) Record(detected bool) {
	s.ScanCount++
	if detected {
		s.DetectionCount++
	}
	s.Frequency = float64(s.DetectionCount) / float64(s.ScanCount)
}

// Valid reports whether the counters are internally consistent.
func (s Stats) Valid() bool {
	return s.ScanCount >= 0 && s.DetectionCount >= 0 &&
		s.DetectionCount <= s.ScanCount &&
		s.Frequency >= 0 && s.Frequency <= 1
}

// Backend loads and saves the full learned-statistics table.
type Backend interface {
	Load(ctx context.Context) (map[string]Stats, error)
	Save(ctx context.Context, stats map[string]Stats) error
	Close() error
}

// Config contains learning store configuration
type Config struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"` // memory, file, sqlite, postgres, redis
	FilePath      string        `yaml:"file_path" mapstructure:"file_path"`
	DatabaseURL   string        `yaml:"database_url" mapstructure:"database_url"`
	RedisURL      string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix     string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxOpenConns  int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}
