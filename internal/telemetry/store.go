package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
)

// Store holds the latest Snapshot. Readers load it without locking; writers
// publish a modified copy under a single mutex.
type Store struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
	seq     uint64
	now     func() time.Time

	// notifyMu serializes delivery so subscribers never see an older
	// snapshot after a newer one.
	notifyMu sync.Mutex
	notified uint64

	subMu  sync.RWMutex
	subs   map[uint64]func(Snapshot)
	nextID uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:  time.Now,
		subs: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(emptySnapshot())

	return s
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Merge applies a parser result from source and notifies subscribers.
// Fields present in pm replace the current readings. Fields previously owned
// by source but absent from pm are kept and marked stale. An empty pm changes
// no values and is recorded as a failure.
func (s *Store) Merge(source string, pm PartialMetric) {
	if s.Apply(source, pm) {
		s.Notify()
	}
}

// Apply is Merge without the subscriber notification. It reports whether pm
// was merged; callers that got true follow up with Notify.
func (s *Store) Apply(source string, pm PartialMetric) bool {
	if len(pm) == 0 {
		s.Fail(source, errors.New().New(ErrEmptySource))
		return false
	}

	s.mu.Lock()
	now := s.now()
	next := s.current.Load().clone()

	for field, reading := range next.Readings {
		if reading.Source != source {
			continue
		}
		if _, ok := pm[field]; !ok {
			reading.Stale = true
			next.Readings[field] = reading
		}
	}
	for field, value := range pm {
		next.Readings[field] = Reading{
			Value:     value,
			Source:    source,
			UpdatedAt: now,
		}
	}

	next.Sources[source] = SourceStatus{
		LastAttempt: now,
		LastSuccess: now,
	}
	next.UpdatedAt = now
	s.publish(next)
	s.mu.Unlock()

	return true
}

// Fail records a failed collection for source and marks its fields stale.
func (s *Store) Fail(source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.current.Load().clone()

	for field, reading := range next.Readings {
		if reading.Source == source && !reading.Stale {
			reading.Stale = true
			next.Readings[field] = reading
		}
	}

	status := next.Sources[source]
	status.LastAttempt = now
	status.ConsecutiveFailures++
	if err != nil {
		status.LastError = err.Error()
	}
	next.Sources[source] = status

	s.publish(next)
}

// Seed preloads readings, typically restored from the last-known cache.
// Seeded readings are stale and never replace a field already present.
func (s *Store) Seed(readings map[Field]Reading) {
	if len(readings) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().clone()
	for field, reading := range readings {
		if _, ok := next.Readings[field]; ok {
			continue
		}
		reading.Stale = true
		next.Readings[field] = reading
	}
	s.publish(next)
}

// publish must be called with s.mu held.
func (s *Store) publish(next *Snapshot) {
	s.seq++
	s.current.Store(next)
}

// Subscribe registers fn to be called with the latest snapshot after every
// non-empty merge. fn runs on the merging goroutine, outside the store lock,
// and must not call Merge or Notify.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Notify delivers the current snapshot to subscribers unless it was already
// delivered. Deliveries are serialized and never go backwards.
func (s *Store) Notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap, seq := s.current.Load(), s.seq
	s.mu.Unlock()

	if seq == s.notified {
		return
	}
	s.notified = seq

	s.subMu.RLock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(*snap)
	}
}
