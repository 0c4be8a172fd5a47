// Package poller drives metric sources on a ticker and merges their results
// into a telemetry store.
package poller

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/gpu"
	"codeberg.org/mutker/amdgpumon/internal/logger"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

const DefaultInterval = time.Second

// Poller runs every source once per tick. Each tick is tagged with the
// generation current at Start; Stop advances the generation so completions
// from earlier runs are dropped.
type Poller struct {
	store    *telemetry.Store
	sources  []gpu.Source
	logger   logger.Logger
	observer Observer
	timeout  time.Duration

	// genMu orders completions against Stop: completions hold it shared
	// while merging, Stop holds it exclusively while advancing gen.
	genMu sync.RWMutex
	gen   uint64

	mu       sync.Mutex
	running  bool
	interval time.Duration
	parent   context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]bool
	wg         sync.WaitGroup
}

var _ Monitor = (*Poller)(nil)

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Poller) {
		p.logger = log
	}
}

// WithObserver receives per-collection durations and errors.
func WithObserver(o Observer) Option {
	return func(p *Poller) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithTimeout bounds each collection. The default is twice the interval.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.timeout = d
	}
}

func New(store *telemetry.Store, sources []gpu.Source, opts ...Option) (*Poller, error) {
	if len(sources) == 0 {
		return nil, errors.New().New(ErrNoSources)
	}

	p := &Poller{
		store:    store,
		sources:  sources,
		logger:   logger.Nop(),
		observer: nopObserver{},
		interval: DefaultInterval,
		inflight: make(map[string]bool, len(sources)),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *Poller) Snapshot() telemetry.Snapshot {
	return p.store.Snapshot()
}

// Subscribe registers fn for every merged snapshot. fn runs on a collection
// goroutine and must not call Stop, Pause or Start.
func (p *Poller) Subscribe(fn func(telemetry.Snapshot)) func() {
	return p.store.Subscribe(fn)
}

// Start begins polling at interval, collecting once immediately. Starting a
// running poller stops the previous loop first.
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New().WithData(ErrInvalidInterval, interval.String())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.stopLocked()
	}

	gen := p.advance()
	runCtx, cancel := context.WithCancel(ctx)

	p.running = true
	p.interval = interval
	p.parent = ctx
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(runCtx, gen, interval, p.done)

	p.logger.Info().
		Dur("interval", interval).
		Dur("timeout", p.collectTimeout(interval)).
		Int("sources", len(p.sources)).
		Uint64("generation", gen).
		Msg("Polling started")

	return nil
}

// Stop halts polling. Once it returns, no collection started before the call
// will modify the store. Stop on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.stopLocked()
		p.logger.Info().Msg("Polling stopped")
	}
}

// Pause stops polling but remembers the interval for Resume.
func (p *Poller) Pause() {
	p.Stop()
}

// Resume restarts polling with the interval and context of the last Start.
func (p *Poller) Resume() error {
	p.mu.Lock()
	ctx, interval, running := p.parent, p.interval, p.running
	p.mu.Unlock()

	if running {
		return nil
	}
	if ctx == nil {
		return errors.New().New(ErrNotStarted)
	}

	return p.Start(ctx, interval)
}

// Running reports whether the ticker loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// Generation returns the current generation.
func (p *Poller) Generation() uint64 {
	p.genMu.RLock()
	defer p.genMu.RUnlock()

	return p.gen
}

// Wait blocks until every in-flight collection has returned. Collections
// that outlive Stop are discarded, but their goroutines still finish.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) stopLocked() {
	p.advance()
	p.cancel()
	<-p.done
	p.running = false
}

func (p *Poller) advance() uint64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	p.gen++

	return p.gen
}

func (p *Poller) collectTimeout(interval time.Duration) time.Duration {
	if p.timeout > 0 {
		return p.timeout
	}

	return 2 * interval
}

func (p *Poller) loop(ctx context.Context, gen uint64, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeout := p.collectTimeout(interval)
	p.tick(ctx, gen, timeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, gen, timeout)
		}
	}
}

// tick launches every source that is not still running from an earlier
// tick. It never waits for a collection to finish.
func (p *Poller) tick(ctx context.Context, gen uint64, timeout time.Duration) {
	for _, src := range p.sources {
		if !p.acquire(src.ID()) {
			p.logger.Debug().Str("source", src.ID()).Msg("Previous collection still running, skipping")
			continue
		}

		p.wg.Add(1)
		go func(src gpu.Source) {
			defer p.wg.Done()
			defer p.release(src.ID())

			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			pm, err := src.Collect(cctx)
			p.complete(gen, src.ID(), time.Since(start), pm, err)
		}(src)
	}
}

func (p *Poller) acquire(id string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	if p.inflight[id] {
		return false
	}
	p.inflight[id] = true

	return true
}

func (p *Poller) release(id string) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	delete(p.inflight, id)
}

func (p *Poller) complete(gen uint64, source string, d time.Duration, pm telemetry.PartialMetric, err error) {
	if p.apply(gen, source, d, pm, err) {
		p.store.Notify()
	}
}

// apply updates the store if gen is still current. Subscribers are notified
// by the caller after genMu is released, so a slow subscriber cannot hold up
// Stop.
func (p *Poller) apply(gen uint64, source string, d time.Duration, pm telemetry.PartialMetric, err error) bool {
	p.genMu.RLock()
	defer p.genMu.RUnlock()

	if gen != p.gen {
		p.logger.Debug().
			Str("source", source).
			Uint64("generation", gen).
			Uint64("current", p.gen).
			Msg("Discarding stale collection")
		return false
	}

	p.observer.ObserveCollect(source, d, err)

	if err != nil {
		p.logCollectError(source, err)
		p.store.Fail(source, err)
		return false
	}

	p.logger.Debug().
		Str("source", source).
		Dur("duration", d).
		Int("fields", len(pm)).
		Msg("Collected")

	return p.store.Apply(source, pm)
}

func (p *Poller) logCollectError(source string, err error) {
	ev := p.logger.Warn()
	if gpu.IsParseFailure(err) {
		ev = p.logger.Debug()
	}
	ev.Str("source", source).
		Str("error_code", string(errors.CodeOf(err))).
		Err(err).
		Msg("Collection failed")
}
