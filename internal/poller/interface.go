package poller

import (
	"context"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

// Monitor is the surface exposed to consumers such as the terminal panel,
// the HTTP exporter or a desktop shell binding.
type Monitor interface {
	Snapshot() telemetry.Snapshot
	Subscribe(fn func(telemetry.Snapshot)) (unsubscribe func())
	Start(ctx context.Context, interval time.Duration) error
	Stop()
}

// Observer is told about every collection that was not discarded.
type Observer interface {
	ObserveCollect(source string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveCollect(string, time.Duration, error) {}
