package config

import "codeberg.org/mutker/amdgpumon/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrBindFlags       = errors.ErrBindFlags
	ErrReadConfig      = errors.ErrReadConfig
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrInvalidProfile  = errors.ErrInvalidProfile
	ErrInvalidLogLevel = errors.ErrInvalidLogLevel
	ErrInvalidTimeout  = errors.ErrorCode("config_invalid_timeout")
	ErrInvalidCache    = errors.ErrorCode("config_invalid_cache")
)
