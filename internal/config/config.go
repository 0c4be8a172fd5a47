// Package config loads amdgpumon settings from defaults, a TOML file,
// AMDGPUMON_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/gpu"
	"codeberg.org/mutker/amdgpumon/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	AppName   = "amdgpumon"
	EnvPrefix = "AMDGPUMON"
	EnvConfig = EnvPrefix + "_CONFIG"

	DefaultInterval      = time.Second
	MinInterval          = 100 * time.Millisecond
	DefaultLogLevel      = "warning"
	DefaultCachePath     = "/var/lib/amdgpumon/cache.db"
	DefaultFlushInterval = 30 * time.Second
	DefaultPIDFile       = "/run/amdgpumon.pid"
)

type RyzenAdj struct {
	Path string `mapstructure:"path"`
	Sudo bool   `mapstructure:"sudo"`
}

type Cache struct {
	Enabled       bool          `mapstructure:"enabled"`
	Path          string        `mapstructure:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Profile  string        `mapstructure:"profile"`
	Card     string        `mapstructure:"card"`
	ROCmSMI  string        `mapstructure:"rocm_smi"`
	Sensor   string        `mapstructure:"sensor"`
	RyzenAdj RyzenAdj      `mapstructure:"ryzenadj"`
	LogLevel string        `mapstructure:"log_level"`
	Monitor  bool          `mapstructure:"monitor"`
	Listen   string        `mapstructure:"listen"`
	Cache    Cache         `mapstructure:"cache"`
	PIDFile  string        `mapstructure:"pid_file"`

	// ConfigFile is the file that was read, empty if none was found.
	ConfigFile string `mapstructure:"-"`
}

// flag name -> viper key
var flagKeys = map[string]string{
	"interval":      "interval",
	"timeout":       "timeout",
	"profile":       "profile",
	"card":          "card",
	"rocm-smi":      "rocm_smi",
	"sensor":        "sensor",
	"ryzenadj":      "ryzenadj.path",
	"ryzenadj-sudo": "ryzenadj.sudo",
	"log-level":     "log_level",
	"monitor":       "monitor",
	"listen":        "listen",
	"cache":         "cache.enabled",
	"cache-path":    "cache.path",
	"cache-flush":   "cache.flush_interval",
	"pid-file":      "pid_file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("profile", gpu.ProfileROCmJSON)
	v.SetDefault("card", gpu.DefaultCard)
	v.SetDefault("rocm_smi", "rocm-smi")
	v.SetDefault("sensor", gpu.SensorEdge)
	v.SetDefault("ryzenadj.path", "ryzenadj")
	v.SetDefault("ryzenadj.sudo", true)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("monitor", false)
	v.SetDefault("listen", "")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", DefaultCachePath)
	v.SetDefault("cache.flush_interval", DefaultFlushInterval)
	v.SetDefault("pid_file", DefaultPIDFile)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "Path to configuration file")
	fs.Duration("interval", DefaultInterval, "Polling interval")
	fs.Duration("timeout", 0, "Per-command timeout (default twice the interval)")
	fs.String("profile", gpu.ProfileROCmJSON, "Source profile: "+strings.Join(gpu.Profiles(), ", "))
	fs.String("card", gpu.DefaultCard, "rocm-smi card key")
	fs.String("rocm-smi", "rocm-smi", "Path to rocm-smi")
	fs.String("sensor", gpu.SensorEdge, "hwmon sensor label for the hwmon profile")
	fs.String("ryzenadj", "ryzenadj", "Path to ryzenadj")
	fs.Bool("ryzenadj-sudo", true, "Run ryzenadj through sudo")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.Bool("debug", false, "Shortcut for --log-level=debug")
	fs.Bool("verbose", false, "Shortcut for --log-level=info")
	fs.Bool("monitor", false, "Print a status line on every update")
	fs.String("listen", "", "HTTP listen address for /metrics, /snapshot and /ws")
	fs.Bool("cache", false, "Persist last-known values across restarts")
	fs.String("cache-path", DefaultCachePath, "Path to the last-known value database")
	fs.Duration("cache-flush", DefaultFlushInterval, "Cache flush interval")
	fs.String("pid-file", DefaultPIDFile, "Path to the PID file, empty to disable")

	return fs
}

// Load builds the configuration from args (without the program name).
// pflag.ErrHelp is returned unwrapped when -h or --help is given.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	if !fs.Changed("log-level") {
		if debug, _ := fs.GetBool("debug"); debug {
			v.Set("log_level", "debug")
		} else if verbose, _ := fs.GetBool("verbose"); verbose {
			v.Set("log_level", "info")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Join("/etc", AppName))
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, AppName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.New().Wrap(ErrReadConfig, err)
	}

	return nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval < MinInterval {
		return errFactory.WithData(ErrInvalidInterval, c.Interval.String())
	}
	if c.Timeout < 0 {
		return errFactory.WithData(ErrInvalidTimeout, c.Timeout.String())
	}
	if !slices.Contains(gpu.Profiles(), c.Profile) {
		return errFactory.WithData(ErrInvalidProfile, c.Profile)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return errFactory.WithData(ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Cache.Enabled {
		if c.Cache.Path == "" {
			return errFactory.WithMessage(ErrInvalidCache, "cache.path is required when the cache is enabled")
		}
		if c.Cache.FlushInterval <= 0 {
			return errFactory.WithData(ErrInvalidCache, c.Cache.FlushInterval.String())
		}
	}

	return nil
}

// CollectTimeout is the effective per-command timeout.
func (c *Config) CollectTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}

	return 2 * c.Interval
}

// ProfileConfig returns the settings sources are built from.
func (c *Config) ProfileConfig() gpu.ProfileConfig {
	return gpu.ProfileConfig{
		Card:         c.Card,
		ROCmSMI:      c.ROCmSMI,
		RyzenAdj:     c.RyzenAdj.Path,
		RyzenAdjSudo: c.RyzenAdj.Sudo,
		Sensor:       c.Sensor,
	}
}
