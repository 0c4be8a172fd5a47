package cache

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/amdgpumon/cache.db"
	defaultFlushInterval = 30 * time.Second
	backupDirName        = "backups"
)

type Config struct {
	DBPath          string
	FlushInterval   time.Duration
	BackupOnMigrate bool
	Enabled         bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:          defaultDBPath,
		FlushInterval:   defaultFlushInterval,
		BackupOnMigrate: true,
		Enabled:         false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate when the cache is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.FlushInterval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, c.FlushInterval.String())
	}

	return nil
}

func (c Config) backupDir() string {
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}
