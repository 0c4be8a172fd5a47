// Package gpu defines the metric sources polled for AMD GPU telemetry and
// the parsers that turn rocm-smi and ryzenadj output into partial metrics.
package gpu

import (
	"context"

	"codeberg.org/mutker/amdgpumon/internal/runner"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

// Source produces one partial metric per collection.
type Source interface {
	ID() string
	Collect(ctx context.Context) (telemetry.PartialMetric, error)
}

// ParseFunc converts raw command output into a partial metric. It must never
// panic and returns an empty metric when the output has the wrong shape.
type ParseFunc func(runner.Result) telemetry.PartialMetric

// Format is the output format a command source produces.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	default:
		return "text"
	}
}
