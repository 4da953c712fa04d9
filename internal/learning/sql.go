package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS rule_learning (
	rule_id         TEXT PRIMARY KEY,
	scan_count      INTEGER NOT NULL DEFAULT 0,
	detection_count INTEGER NOT NULL DEFAULT 0,
	frequency       DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at      TIMESTAMP NOT NULL
)`

// upsertBatchSize bounds the number of rows written per statement.
const upsertBatchSize = 200

// SQLStore persists learned statistics in PostgreSQL or SQLite
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

type statsRow struct {
	RuleID string `db:"rule_id"`
	Stats
}

// NewSQLStore connects to the database and ensures the schema exists.
// driver is "postgres" or "sqlite".
func NewSQLStore(driver, dsn string, config *Config, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.MaxIdleConns)
		}
	}

	store := &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Learning store initialized",
		zap.String("driver", driver),
		zap.String("database_url", maskDatabaseURL(dsn)))

	return store, nil
}

// initialize checks the connection and creates the table
func (s *SQLStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create rule_learning table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (map[string]Stats, error) {
	var rows []statsRow
	query := `SELECT rule_id, scan_count, detection_count, frequency FROM rule_learning`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load learned statistics: %w", err)
	}

	stats := make(map[string]Stats, len(rows))
	for _, row := range rows {
		stats[row.RuleID] = row.Stats
	}

	s.logger.Debug("Learned statistics loaded", zap.Int("rules", len(stats)))
	return stats, nil
}

// Save upserts every rule in a single transaction.
func (s *SQLStore) Save(ctx context.Context, stats map[string]Stats) error {
	if len(stats) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for begin := 0; begin < len(ids); begin += upsertBatchSize {
		end := min(begin+upsertBatchSize, len(ids))
		batch := ids[begin:end]

		valueStrings := make([]string, 0, len(batch))
		valueArgs := make([]interface{}, 0, len(batch)*5)
		for _, id := range batch {
			st := stats[id]
			valueStrings = append(valueStrings, "(?, ?, ?, ?, ?)")
			valueArgs = append(valueArgs, id, st.ScanCount, st.DetectionCount, st.Frequency, now)
		}

		query := tx.Rebind(fmt.Sprintf(`
			INSERT INTO rule_learning (rule_id, scan_count, detection_count, frequency, updated_at)
			VALUES %s
			ON CONFLICT (rule_id) DO UPDATE SET
				scan_count = excluded.scan_count,
				detection_count = excluded.detection_count,
				frequency = excluded.frequency,
				updated_at = excluded.updated_at`,
			strings.Join(valueStrings, ",")))

		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return fmt.Errorf("failed to upsert learned statistics: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit learned statistics: %w", err)
	}

	s.logger.Debug("Learned statistics saved",
		zap.Int("rules", len(ids)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// maskDatabaseURL masks credentials in a connection string for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***:***" + url[at:]
}
