package telemetry

import "codeberg.org/mutker/amdgpumon/internal/errors"

const (
	ErrEmptySource = errors.ErrorCode("telemetry_empty_source")
)
