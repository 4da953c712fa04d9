package learning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore keeps one hash per rule under a key prefix plus a set indexing the rule ids.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed learning store
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.MaxOpenConns > 0 {
		opts.PoolSize = config.MaxOpenConns
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "dq:learning:"
	}

	store := &RedisStore{
		client: redis.NewClient(opts),
		prefix: prefix,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.client.Ping(ctx).Result(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Learning store initialized",
		zap.String("driver", "redis"),
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.String("key_prefix", prefix))

	return store, nil
}

func (r *RedisStore) indexKey() string { return r.prefix + "rules" }

func (r *RedisStore) ruleKey(id string) string { return r.prefix + "rule:" + id }

func (r *RedisStore) Load(ctx context.Context) (map[string]Stats, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list learned rules: %w", err)
	}

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, r.ruleKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to load learned statistics: %w", err)
		}
	}

	stats := make(map[string]Stats, len(ids))
	for id, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		st, err := parseStats(fields)
		if err != nil {
			r.logger.Warn("Skipping corrupt learned statistics", zap.String("rule_id", id), zap.Error(err))
			continue
		}
		stats[id] = st
	}

	r.logger.Debug("Learned statistics loaded", zap.Int("rules", len(stats)))
	return stats, nil
}

func (r *RedisStore) Save(ctx context.Context, stats map[string]Stats) error {
	if len(stats) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, 0, len(stats))
		for id, st := range stats {
			pipe.HSet(ctx, r.ruleKey(id), map[string]interface{}{
				"scan_count":      st.ScanCount,
				"detection_count": st.DetectionCount,
				"frequency":       strconv.FormatFloat(st.Frequency, 'g', -1, 64),
			})
			members = append(members, id)
		}
		pipe.SAdd(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save learned statistics: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func parseStats(fields map[string]string) (Stats, error) {
	var st Stats
	var err error
	if st.ScanCount, err = strconv.Atoi(fields["scan_count"]); err != nil {
		return st, fmt.Errorf("scan_count: %w", err)
	}
	if st.DetectionCount, err = strconv.Atoi(fields["detection_count"]); err != nil {
		return st, fmt.Errorf("detection_count: %w", err)
	}
	if st.Frequency, err = strconv.ParseFloat(fields["frequency"], 64); err != nil {
		return st, fmt.Errorf("frequency: %w", err)
	}
	return st, nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if idx := strings.Index(url, "@"); idx > 0 {
		if schemeIdx := strings.Index(url, "://"); schemeIdx > 0 && schemeIdx < idx {
			return url[:schemeIdx+3] + "***@" + url[idx+1:]
		}
	}
	return url
}
