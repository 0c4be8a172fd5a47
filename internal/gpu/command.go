package gpu

import (
	"context"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/runner"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

// CommandSource runs one command and parses its output.
type CommandSource struct {
	id      string
	command string
	args    []string
	format  Format
	parse   ParseFunc
	runner  runner.Runner
}

func NewCommandSource(id string, r runner.Runner, format Format, parse ParseFunc, command string, args ...string) *CommandSource {
	return &CommandSource{
		id:      id,
		command: command,
		args:    append([]string(nil), args...),
		format:  format,
		parse:   parse,
		runner:  r,
	}
}

func (s *CommandSource) ID() string {
	return s.id
}

// Command returns the argument vector, command first.
func (s *CommandSource) Command() []string {
	return append([]string{s.command}, s.args...)
}

func (s *CommandSource) Format() Format {
	return s.format
}

// Collect runs the command and parses its output. A run that fails returns
// the runner's error; a run that succeeds but parses to nothing returns
// ErrParseFailed.
func (s *CommandSource) Collect(ctx context.Context) (telemetry.PartialMetric, error) {
	res := s.runner.Run(ctx, s.command, s.args...)
	if !res.Success {
		return nil, res.Err
	}

	pm := s.parse(res)
	if len(pm) == 0 {
		return nil, errors.New().WithData(ErrParseFailed, struct {
			Source string
			Format string
		}{
			Source: s.id,
			Format: s.format.String(),
		})
	}

	return pm, nil
}
