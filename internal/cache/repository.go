package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/logger"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	pending       map[telemetry.Field]telemetry.Reading
	closed        bool
	closeOnce     sync.Once
	closeErr      error
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewRepository opens or creates the SQLite database at cfg.DBPath and
// starts the background flusher.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Cache repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		pending:       make(map[telemetry.Field]telemetry.Reading, len(telemetry.Fields)),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go repo.flusher()

	return repo, nil
}

func (r *repository) Record(snap telemetry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}

	for field, reading := range snap.Readings {
		if reading.Stale {
			continue
		}
		if prev, ok := r.pending[field]; ok && prev.UpdatedAt.After(reading.UpdatedAt) {
			continue
		}
		r.pending[field] = reading
	}

	return nil
}

func (r *repository) Load(ctx context.Context) (map[telemetry.Field]telemetry.Reading, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectReadingsSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	readings := make(map[telemetry.Field]telemetry.Reading)
	for rows.Next() {
		var (
			field     string
			value     float64
			source    string
			updatedAt int64
		)
		if err := rows.Scan(&field, &value, &source, &updatedAt); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}

		f := telemetry.Field(field)
		if !slices.Contains(telemetry.Fields, f) {
			r.logger.Debug().Str("field", field).Msg("Skipping unknown cached field")
			continue
		}

		readings[f] = telemetry.Reading{
			Value:     value,
			Source:    source,
			UpdatedAt: time.UnixMilli(updatedAt),
			Stale:     true,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Debug().Int("fields", len(readings)).Msg("Loaded cached readings")

	return readings, nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		// Signal the flusher goroutine to stop and wait for its final flush
		close(r.shutdownChan)
		r.flushTicker.Stop()
		<-r.flushDoneChan

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			r.closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
		}

		if err := r.db.Close(); err != nil && r.closeErr == nil {
			r.closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
		}

		r.logger.Info().Msg("Cache repository closed")
	})

	return r.closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to flush cache")
			}
		case <-r.shutdownChan:
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to flush cache on close")
			}
			return
		}
	}
}

// flush writes the pending readings in one transaction. On failure they
// are kept for the next attempt unless a newer reading arrived meanwhile.
func (r *repository) flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[telemetry.Field]telemetry.Reading, len(telemetry.Fields))
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := r.write(batch); err != nil {
		r.mu.Lock()
		for field, reading := range batch {
			if _, newer := r.pending[field]; !newer {
				r.pending[field] = reading
			}
		}
		r.mu.Unlock()

		return err
	}

	r.logger.Debug().Int("fields", len(batch)).Msg("Flushed cache to database")

	return nil
}

func (r *repository) write(batch map[telemetry.Field]telemetry.Reading) error {
	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(upsertReadingSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for field, reading := range batch {
		if _, err := stmt.Exec(string(field), reading.Value, reading.Source, reading.UpdatedAt.UnixMilli()); err != nil {
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}
