// Package pid guards against running two monitors at once.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/amdgpumon/internal/errors"
)

const defaultFile = "amdgpumon.pid"

// DefaultPath is used when no path is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), defaultFile)
}

// Write writes the current process ID to path. It fails with
// ErrAlreadyRunning when path names a live process other than this one;
// a stale or unreadable file is replaced.
func Write(path string) error {
	errFactory := errors.New()
	if path == "" {
		path = DefaultPath()
	}
	self := os.Getpid()

	if other, ok := readPID(path); ok && other != self && alive(other) {
		return errFactory.WithData(errors.ErrAlreadyRunning, other)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(self)), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file if it belongs to this process.
func Remove(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if other, ok := readPID(path); ok && other != os.Getpid() {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))

	return err == nil || errors.Is(err, syscall.EPERM)
}
