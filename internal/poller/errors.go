package poller

import "codeberg.org/mutker/amdgpumon/internal/errors"

const (
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrNoSources       = errors.ErrorCode("poller_no_sources")
	ErrNotStarted      = errors.ErrorCode("poller_not_started")
)
