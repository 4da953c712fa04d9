package learning

import (
	"fmt"

	"go.uber.org/zap"
)

// NewBackend creates the backend selected by config.Backend.
func NewBackend(config *Config, logger *zap.Logger) (Backend, error) {
	switch config.Backend {
	case "", "memory":
		logger.Info("Using in-memory learning store; learned statistics will not survive restarts")
		return NewMemoryStore(nil), nil
	case "file":
		return NewFileStore(config.FilePath, logger)
	case "sqlite":
		return NewSQLStore("sqlite", config.FilePath, config, logger)
	case "postgres":
		return NewSQLStore("postgres", config.DatabaseURL, config, logger)
	case "redis":
		return NewRedisStore(config, logger)
	default:
		return nil, fmt.Errorf("unknown learning backend: %s", config.Backend)
	}
}
