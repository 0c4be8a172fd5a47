package exporter

import "codeberg.org/mutker/amdgpumon/internal/errors"

const (
	ErrListenFailed   = errors.ErrorCode("exporter_listen_failed")
	ErrShutdownFailed = errors.ErrShutdownFailed
)
