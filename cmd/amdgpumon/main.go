package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/cache"
	"codeberg.org/mutker/amdgpumon/internal/config"
	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/exporter"
	"codeberg.org/mutker/amdgpumon/internal/gpu"
	"codeberg.org/mutker/amdgpumon/internal/logger"
	"codeberg.org/mutker/amdgpumon/internal/panel"
	"codeberg.org/mutker/amdgpumon/internal/pid"
	"codeberg.org/mutker/amdgpumon/internal/poller"
	"codeberg.org/mutker/amdgpumon/internal/runner"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

type app struct {
	cfg      *config.Config
	store    *telemetry.Store
	poller   *poller.Poller
	cache    cache.Repository
	exporter *exporter.Server
	unsubs   []func()
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		logger.Warn().Err(err).Msg("Invalid log level, using warning")
	}
	logger.Debug().Str("file", cfg.ConfigFile).Msg("Config loaded")

	if cfg.PIDFile != "" {
		if err := pid.Write(cfg.PIDFile); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PIDFile).Msg("Failed to write PID file")
		}
	}

	a, err := setup(cfg)
	if err != nil {
		removePID(cfg)
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel, a.poller)

	if err := a.run(ctx); err != nil {
		logger.Error().Err(err).Msg("Error in main loop")
	}
	a.cleanup()
}

func setup(cfg *config.Config) (*app, error) {
	log := logger.Default()
	a := &app{cfg: cfg, store: telemetry.NewStore()}

	r := runner.New(
		runner.WithTimeout(cfg.CollectTimeout()),
		runner.WithLogger(log.With("runner")),
	)

	sources, err := gpu.BuildProfile(cfg.Profile, r, cfg.ProfileConfig())
	if err != nil {
		return nil, err
	}

	a.cache, err = cache.New(cache.Config{
		DBPath:          cfg.Cache.Path,
		FlushInterval:   cfg.Cache.FlushInterval,
		BackupOnMigrate: true,
		Enabled:         cfg.Cache.Enabled,
	}, log.With("cache"))
	if err != nil {
		return nil, err
	}
	a.seed()

	var observer poller.Observer
	if cfg.Listen != "" {
		metrics := exporter.NewMetrics(a.store.Snapshot)
		a.exporter = exporter.New(cfg.Listen, a.store, metrics, log.With("exporter"))
		observer = metrics
	}

	a.poller, err = poller.New(a.store, sources,
		poller.WithLogger(log.With("poller")),
		poller.WithObserver(observer),
		poller.WithTimeout(cfg.CollectTimeout()),
	)
	if err != nil {
		a.cache.Close()
		return nil, err
	}

	return a, nil
}

// seed restores last-known values so the first render is not empty.
func (a *app) seed() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	readings, err := a.cache.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load cached readings")
		return
	}
	a.store.Seed(readings)
}

func (a *app) run(ctx context.Context) error {
	if a.cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Printing GPU status...")
		a.unsubs = append(a.unsubs, a.store.Subscribe(panel.New(os.Stdout).Print))
	} else {
		a.unsubs = append(a.unsubs, a.store.Subscribe(logSnapshot))
	}

	a.unsubs = append(a.unsubs, a.store.Subscribe(func(snap telemetry.Snapshot) {
		if err := a.cache.Record(snap); err != nil {
			logger.Debug().Err(err).Msg("Failed to record snapshot")
		}
	}))

	if a.exporter != nil {
		if err := a.exporter.Start(); err != nil {
			return err
		}
	}

	if err := a.poller.Start(ctx, a.cfg.Interval); err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, p *poller.Poller) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				logger.Info().Msg("Pausing polling")
				p.Pause()
			case syscall.SIGUSR2:
				logger.Info().Msg("Resuming polling")
				if err := p.Resume(); err != nil {
					logger.Warn().Err(err).Msg("Failed to resume polling")
				}
			default:
				logger.Info().Msg("Received termination signal.")
				cancel()
				return
			}
		}
	}
}

func (a *app) cleanup() {
	a.poller.Stop()
	a.poller.Wait()

	for _, unsubscribe := range a.unsubs {
		unsubscribe()
	}

	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.exporter.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop HTTP exporter")
		}
		cancel()
	}

	if err := a.cache.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close cache")
	}

	removePID(a.cfg)
	logger.Info().Msg("Exiting...")
}

func removePID(cfg *config.Config) {
	if cfg.PIDFile == "" {
		return
	}
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
}

func logSnapshot(snap telemetry.Snapshot) {
	ev := logger.Debug()
	for _, f := range telemetry.Fields {
		if r, ok := snap.Get(f); ok {
			ev.Float64(string(f), r.Value)
		}
	}
	ev.Int("sources", len(snap.Sources)).Msg("")
}
