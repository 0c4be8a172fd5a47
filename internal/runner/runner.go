// Package runner executes metric commands as argument vectors with a bounded
// wall-clock timeout. Every outcome is reported in a Result; nothing panics
// and nothing is returned out of band.
package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/logger"
)

const (
	DefaultTimeout = 2 * time.Second

	// waitDelay bounds how long Wait blocks on pipes held open by
	// grandchildren (sudo) after the process itself was killed.
	waitDelay = 500 * time.Millisecond

	exitCommandNotFound = 127
)

// Result is the output of one command invocation.
type Result struct {
	Command    string
	Args       []string
	Success    bool
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Duration returns the wall-clock time the invocation took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// String renders the command line for logs.
func (r Result) String() string {
	return strings.Join(append([]string{r.Command}, r.Args...), " ")
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// Exec runs commands with os/exec.
type Exec struct {
	timeout  time.Duration
	logger   logger.Logger
	lookPath func(string) (string, error)
}

// Option configures an Exec.
type Option func(*Exec)

// WithTimeout sets the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Exec) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Exec) {
		e.logger = log
	}
}

func New(opts ...Option) *Exec {
	e := &Exec{
		timeout:  DefaultTimeout,
		logger:   logger.Nop(),
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Timeout returns the configured per-invocation deadline.
func (e *Exec) Timeout() time.Duration {
	return e.timeout
}

// Run executes name with args and waits at most the configured timeout,
// or less if ctx expires first.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (res Result) {
	errFactory := errors.New()
	res = Result{
		Command:   name,
		Args:      args,
		StartedAt: time.Now(),
		ExitCode:  -1,
	}
	defer func() {
		res.FinishedAt = time.Now()
	}()

	path, err := e.lookPath(name)
	if err != nil {
		res.Err = errFactory.Wrap(ErrSpawnFailed, err)
		res.Stderr = []byte(err.Error())
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		res.Err = errFactory.Wrap(ErrSpawnFailed, err)
		res.Stderr = []byte(err.Error())
		return res
	}

	err = cmd.Wait()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.Err = errFactory.Wrap(ErrTimeout, ctx.Err())
	case ctx.Err() == context.Canceled:
		res.Err = errFactory.Wrap(ErrCanceled, ctx.Err())
	case err != nil && res.ExitCode == exitCommandNotFound:
		res.Err = errFactory.Wrap(ErrSpawnFailed, err)
	case err != nil:
		res.Err = errFactory.Wrap(ErrExitFailed, err).WithData(ExitData{
			Command:  res.String(),
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
		})
	default:
		res.Success = true
	}

	if res.Err != nil {
		e.logger.Debug().
			Str("command", res.String()).
			Int("exit_code", res.ExitCode).
			Err(res.Err).
			Msg("Command failed")
	}

	return res
}
