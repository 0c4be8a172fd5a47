package runner

import "codeberg.org/mutker/amdgpumon/internal/errors"

const (
	// Spawn failures: binary missing or launch denied
	ErrSpawnFailed = errors.ErrorCode("runner_spawn_failed")

	// Execution failures: non-zero exit, deadline or cancellation
	ErrExitFailed = errors.ErrorCode("runner_exit_failed")
	ErrTimeout    = errors.ErrorCode("runner_timeout")
	ErrCanceled   = errors.ErrorCode("runner_canceled")
)

// ExitData is attached to ErrExitFailed errors.
type ExitData struct {
	Command  string
	ExitCode int
	Stderr   string
}

// IsSpawnFailure reports whether err means the command never ran.
func IsSpawnFailure(err error) bool {
	return errors.HasCode(err, ErrSpawnFailed)
}

// IsExecutionFailure reports whether the command ran but did not succeed.
func IsExecutionFailure(err error) bool {
	switch errors.CodeOf(err) {
	case ErrExitFailed, ErrTimeout, ErrCanceled:
		return true
	default:
		return false
	}
}
