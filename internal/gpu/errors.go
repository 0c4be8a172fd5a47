package gpu

import "codeberg.org/mutker/amdgpumon/internal/errors"

const (
	ErrParseFailed        = errors.ErrorCode("gpu_parse_failed")
	ErrUnknownProfile     = errors.ErrorCode("gpu_unknown_profile")
	ErrSensorsUnavailable = errors.ErrorCode("gpu_sensors_unavailable")
)

// IsParseFailure reports whether a collection ran but produced no fields.
func IsParseFailure(err error) bool {
	return errors.HasCode(err, ErrParseFailed)
}
