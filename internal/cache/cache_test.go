package cache_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/cache"
	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/logger"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) cache.Config {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "state", "cache.db")
	cfg.FlushInterval = time.Hour

	return cfg
}

func open(t *testing.T, cfg cache.Config) cache.Repository {
	t.Helper()
	repo, err := cache.New(cfg, logger.Nop())
	require.NoError(t, err)

	return repo
}

func snapshotAt(at time.Time, readings map[telemetry.Field]telemetry.Reading) telemetry.Snapshot {
	return telemetry.Snapshot{UpdatedAt: at, Readings: readings}
}

func TestDisabledIsNoop(t *testing.T) {
	repo, err := cache.New(cache.DefaultConfig(), logger.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.Record(telemetry.Snapshot{}))
	readings, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, readings)
	assert.NoError(t, repo.Close())
}

func TestConfigValidate(t *testing.T) {
	cfg := cache.Config{Enabled: true, FlushInterval: time.Second}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, cache.ErrInvalidDBPath))

	cfg = cache.Config{Enabled: true, DBPath: "/tmp/x.db"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, cache.ErrInvalidConfig))

	assert.NoError(t, cache.Config{}.Validate(), "disabled config needs no path")
}

func TestRoundTripRestoresStale(t *testing.T) {
	cfg := testConfig(t)
	at := time.UnixMilli(1_700_000_000_123)

	repo := open(t, cfg)
	require.NoError(t, repo.Record(snapshotAt(at, map[telemetry.Field]telemetry.Reading{
		telemetry.FieldTemperature: {Value: 72, Source: "rocm-smi-json", UpdatedAt: at},
		telemetry.FieldVRAMTotal:   {Value: 17179869184, Source: "rocm-smi-json", UpdatedAt: at},
		telemetry.FieldPowerDraw:   {Value: 9, Source: "ryzenadj", UpdatedAt: at, Stale: true},
	})))
	require.NoError(t, repo.Close())

	repo = open(t, cfg)
	defer repo.Close()

	readings, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2, "stale readings are not persisted")

	temp := readings[telemetry.FieldTemperature]
	assert.InDelta(t, 72.0, temp.Value, 0.0001)
	assert.Equal(t, "rocm-smi-json", temp.Source)
	assert.True(t, temp.UpdatedAt.Equal(at))
	assert.True(t, temp.Stale)

	assert.InDelta(t, 17179869184.0, readings[telemetry.FieldVRAMTotal].Value, 0.5)
}

func TestOlderReadingDoesNotOverwrite(t *testing.T) {
	cfg := testConfig(t)
	newer := time.UnixMilli(2_000_000)
	older := time.UnixMilli(1_000_000)

	repo := open(t, cfg)
	require.NoError(t, repo.Record(snapshotAt(newer, map[telemetry.Field]telemetry.Reading{
		telemetry.FieldTemperature: {Value: 80, Source: "a", UpdatedAt: newer},
	})))
	require.NoError(t, repo.Close())

	repo = open(t, cfg)
	require.NoError(t, repo.Record(snapshotAt(older, map[telemetry.Field]telemetry.Reading{
		telemetry.FieldTemperature: {Value: 40, Source: "a", UpdatedAt: older},
	})))
	require.NoError(t, repo.Close())

	repo = open(t, cfg)
	defer repo.Close()

	readings, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 80.0, readings[telemetry.FieldTemperature].Value, 0.0001)
}

func TestPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.FlushInterval = 10 * time.Millisecond
	at := time.UnixMilli(1_000)

	repo := open(t, cfg)
	defer repo.Close()

	require.NoError(t, repo.Record(snapshotAt(at, map[telemetry.Field]telemetry.Reading{
		telemetry.FieldCoreClock: {Value: 2000, Source: "rocm-smi-json", UpdatedAt: at},
	})))

	assert.Eventually(t, func() bool {
		readings, err := repo.Load(context.Background())
		return err == nil && len(readings) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordAfterClose(t *testing.T) {
	repo := open(t, testConfig(t))
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close(), "Close is idempotent")

	err := repo.Record(telemetry.Snapshot{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, cache.ErrClosed))
}

func TestSchemaMismatchRecreatesWithBackup(t *testing.T) {
	cfg := testConfig(t)
	at := time.UnixMilli(1_000)

	repo := open(t, cfg)
	require.NoError(t, repo.Record(snapshotAt(at, map[telemetry.Field]telemetry.Reading{
		telemetry.FieldTemperature: {Value: 50, Source: "a", UpdatedAt: at},
	})))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'))`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo = open(t, cfg)
	defer repo.Close()

	readings, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, readings)

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(cfg.DBPath), "backups"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestSeedStore(t *testing.T) {
	cfg := testConfig(t)
	at := time.UnixMilli(5_000)

	repo := open(t, cfg)
	require.NoError(t, repo.Record(snapshotAt(at, map[telemetry.Field]telemetry.Reading{
		telemetry.FieldUtilization: {Value: 10, Source: "rocm-smi-json", UpdatedAt: at},
	})))
	require.NoError(t, repo.Close())

	repo = open(t, cfg)
	defer repo.Close()
	readings, err := repo.Load(context.Background())
	require.NoError(t, err)

	store := telemetry.NewStore()
	store.Seed(readings)

	use, ok := store.Snapshot().Utilization()
	require.True(t, ok)
	assert.InDelta(t, 10.0, use, 0.0001)
	assert.True(t, store.Snapshot().IsStale(telemetry.FieldUtilization))
}
