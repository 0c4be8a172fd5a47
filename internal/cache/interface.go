// Package cache persists the latest value of every telemetry field so a
// restarted monitor can show last-known readings before its first
// collection completes.
package cache

import (
	"context"

	"codeberg.org/mutker/amdgpumon/internal/logger"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

// Repository stores last-known readings.
type Repository interface {
	// Record buffers the fresh readings of snap. Stale readings are skipped.
	Record(snap telemetry.Snapshot) error
	// Load returns every stored reading, marked stale.
	Load(ctx context.Context) (map[telemetry.Field]telemetry.Reading, error)
	// Close flushes pending readings and closes the database.
	Close() error
}

// New opens the repository described by cfg, or a no-op one when the cache
// is disabled.
func New(cfg Config, log logger.Logger) (Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return noop{}, nil
	}

	return NewRepository(cfg, log)
}

type noop struct{}

func (noop) Record(telemetry.Snapshot) error { return nil }

func (noop) Load(context.Context) (map[telemetry.Field]telemetry.Reading, error) {
	return map[telemetry.Field]telemetry.Reading{}, nil
}

func (noop) Close() error { return nil }
