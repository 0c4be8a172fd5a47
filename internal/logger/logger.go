package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"github.com/rs/zerolog"
)

var log = &zeroLogger{l: zerolog.New(os.Stdout).With().Timestamp().Logger()}

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

type zeroLogger struct {
	l zerolog.Logger
}

// Init initializes the package logger for the given level name.
func Init(level string, isService bool) error {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = &zeroLogger{l: zerolog.New(output).With().Timestamp().Logger()}

	lvl, err := ParseLevel(level)
	if err != nil {
		SetLogLevel(WarnLevel)
		return err
	}
	SetLogLevel(lvl)

	return nil
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "", "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return WarnLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	return &zeroLogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

// Default returns the package logger configured by Init.
func Default() Logger {
	return log
}

func (z *zeroLogger) Debug() *LogEvent {
	return &LogEvent{z.l.Debug()}
}

func (z *zeroLogger) Info() *LogEvent {
	return &LogEvent{z.l.Info()}
}

func (z *zeroLogger) Warn() *LogEvent {
	return &LogEvent{z.l.Warn()}
}

func (z *zeroLogger) Error() *LogEvent {
	return &LogEvent{z.l.Error()}
}

func (z *zeroLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{z.l.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func (z *zeroLogger) With(component string) Logger {
	return &zeroLogger{l: z.l.With().Str("component", component).Logger()}
}

// Debug logs a debug message
func Debug() *LogEvent {
	return log.Debug()
}

// Info logs an info message
func Info() *LogEvent {
	return log.Info()
}

// Warn logs a warning message
func Warn() *LogEvent {
	return log.Warn()
}

// Error logs an error message
func Error() *LogEvent {
	return log.Error()
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return log.ErrorWithCode(err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.l.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.l.Fatal().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}
