package learning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

func TestStatsRecord(t *testing.T) {
	var st Stats
	st.Record(true)
	st.Record(false)
	st.Record(false)
	st.Record(true)

	assert.Equal(t, 4, st.ScanCount)
	assert.Equal(t, 2, st.DetectionCount)
	assert.InDelta(t, 0.5, st.Frequency, 1e-12)
	assert.True(t, st.Valid())
	assert.False(t, Stats{ScanCount: 1, DetectionCount: 2}.Valid())
}

func sample() map[string]Stats {
	return map[string]Stats{
		"DB#1": {ScanCount: 4, DetectionCount: 1, Frequency: 0.25},
		"BR#2": {ScanCount: 3, DetectionCount: 3, Frequency: 1},
	}
}

func TestBackends(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	backends := map[string]func(t *testing.T) Backend{
		"Memory": func(t *testing.T) Backend { return NewMemoryStore(nil) },
		"File": func(t *testing.T) Backend {
			store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "learned.json"), logger)
			require.NoError(t, err)
			return store
		},
		"SQLite": func(t *testing.T) Backend {
			store, err := NewSQLStore("sqlite", filepath.Join(t.TempDir(), "learned.db"), &Config{}, logger)
			require.NoError(t, err)
			return store
		},
	}
	if url := os.Getenv("DQ_TEST_REDIS_URL"); url != "" {
		backends["Redis"] = func(t *testing.T) Backend {
			store, err := NewRedisStore(&Config{RedisURL: url, KeyPrefix: "dqtest:" + t.Name() + ":"}, logger)
			require.NoError(t, err)
			return store
		}
	}
	if url := os.Getenv("DQ_TEST_POSTGRES_URL"); url != "" {
		backends["Postgres"] = func(t *testing.T) Backend {
			store, err := NewSQLStore("postgres", url, &Config{}, logger)
			require.NoError(t, err)
			return store
		}
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			require.NoError(t, store.Save(ctx, sample()))
			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, sample()["DB#1"], loaded["DB#1"])
			assert.Equal(t, sample()["BR#2"], loaded["BR#2"])

			updated := sample()
			updated["DB#1"] = Stats{ScanCount: 5, DetectionCount: 2, Frequency: 0.4}
			require.NoError(t, store.Save(ctx, updated))
			loaded, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, updated["DB#1"], loaded["DB#1"])
		})
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	require.NoError(t, err)

	stats, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learned.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(&Config{Backend: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, b)

	_, err = NewBackend(&Config{Backend: "cassandra"}, zap.NewNop())
	assert.Error(t, err)
}

type failingBackend struct{ MemoryStore }

func (f *failingBackend) Save(ctx context.Context, stats map[string]Stats) error {
	return errors.New("disk full")
}

// closeTrackingStore counts saves that reach the store after Close.
type closeTrackingStore struct {
	MemoryStore
	closed    atomic.Bool
	lateSaves atomic.Int32
}

func (s *closeTrackingStore) Save(ctx context.Context, stats map[string]Stats) error {
	if s.closed.Load() {
		s.lateSaves.Add(1)
	}
	return s.MemoryStore.Save(ctx, stats)
}

func (s *closeTrackingStore) Close() error {
	s.closed.Store(true)
	return nil
}

func TestFlusher(t *testing.T) {
	t.Run("DebouncesScheduledWrites", func(t *testing.T) {
		store := NewMemoryStore(nil)
		var calls atomic.Int32
		source := func() map[string]Stats {
			calls.Add(1)
			return sample()
		}
		f := NewFlusher(store, source, 20*time.Millisecond, zap.NewNop())

		for i := 0; i < 10; i++ {
			f.Schedule()
		}
		require.Eventually(t, func() bool { return store.Saves() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, store.Saves())
		assert.Equal(t, int32(1), calls.Load())

		require.NoError(t, f.Close(context.Background()))
		assert.Equal(t, 2, store.Saves())

		f.Schedule()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 2, store.Saves())
	})

	t.Run("NoSaveAfterClose", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			store := &closeTrackingStore{}
			f := NewFlusher(store, sample, time.Millisecond, zap.NewNop())
			f.Schedule()
			time.Sleep(time.Duration(i%3) * time.Millisecond)
			require.NoError(t, f.Close(context.Background()))

			time.Sleep(3 * time.Millisecond)
			require.NoError(t, f.Flush(context.Background()))
			assert.Equal(t, int32(0), store.lateSaves.Load())
		}
	})

	t.Run("FailureIsPersistenceError", func(t *testing.T) {
		f := NewFlusher(&failingBackend{}, sample, time.Hour, zap.NewNop())
		err := f.Flush(context.Background())
		assert.ErrorIs(t, err, dqerr.ErrPersistence)
	})
}
