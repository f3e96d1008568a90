package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

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

// Init initializes the logger based on the given configuration
func Init(level LogLevel, isService bool) {
	InitWriter(os.Stdout, level, isService)
}

// InitWriter initializes the logger to write console output to w.
func InitWriter(w io.Writer, level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}

	if isService {
		// journald stamps every line already
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
		output.NoColor = true
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(level)
}

// ParseLevel maps a configuration string to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, s)
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

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Fatal(), err)}
}

func withCode(e *zerolog.Event, err errors.Error) *zerolog.Event {
	return e.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

// component is a Logger that tags every event with the emitting component.
type component struct {
	name string
}

// Component returns a Logger whose events carry a "component" field.
// The underlying writer is resolved per event, so components created before
// Init still follow it.
func Component(name string) Logger {
	return component{name: name}
}

func (c component) Debug() *LogEvent {
	return &LogEvent{log.Debug().Str("component", c.name)}
}

func (c component) Info() *LogEvent {
	return &LogEvent{log.Info().Str("component", c.name)}
}

func (c component) Warn() *LogEvent {
	return &LogEvent{log.Warn().Str("component", c.name)}
}

func (c component) Error() *LogEvent {
	return &LogEvent{log.Error().Str("component", c.name)}
}

func (c component) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error().Str("component", c.name), err)}
}
