// Package logging wires the process-wide structured logger. Every package
// that needs to log calls logging.With(component) for its own child
// logger rather than writing straight to the global one.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once by Init.
var Logger zerolog.Logger

// Level names the configured verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration (spec §0 Ambient Stack).
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger. Call once at process startup, before
// any package calls With.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// With returns a child logger tagged with a component name, e.g.
// logging.With("scheduler") or logging.With("vm").
func With(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTask returns a child logger tagged with a running task's id.
func WithTask(taskID int64) zerolog.Logger {
	return Logger.With().Int64("task_id", taskID).Logger()
}

// WithConnection returns a child logger tagged with a connection handle.
func WithConnection(connID int64) zerolog.Logger {
	return Logger.With().Int64("conn_id", connID).Logger()
}

func init() {
	// Sane default so packages that log before main calls Init (e.g. in
	// tests) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}
