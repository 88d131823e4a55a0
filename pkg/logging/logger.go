// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace also logs every token request.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs progress lines and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs failed lookups and other warnings.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// consoleTimeFormat keeps pretty output short enough for one progress line
// per identifier.
const consoleTimeFormat = "15:04:05.000"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON lines.
	Pretty bool

	// Output receives the logs; nil means os.Stderr.
	Output io.Writer
}

// DefaultConfig logs JSON lines at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global zerolog logger and level and returns the logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: consoleTimeFormat}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel converts a LogLevel to a zerolog.Level; unknown or empty values
// fall back to info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = string(LevelWarn)
	}

	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// LevelFromVerbosity maps a repeated -v flag count to a level: none logs
// info and above, -v enables debug and -vv trace.
func LevelFromVerbosity(count int) LogLevel {
	switch {
	case count >= 2:
		return LevelTrace
	case count == 1:
		return LevelDebug
	default:
		return LevelInfo
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Trace: Every token request
//
// Debug: Detailed information for debugging
//   - Fetch round-trips
//   - Pacing pauses and ceiling waits
//   - Mirror publishes
//
// Info: Normal operation events
//   - Per-identifier progress lines
//   - Dispatch start and summary
//   - Document written
//   - Metrics server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Auth and transport failures (recorded as failed rows)
//   - Mirror errors
//   - Interrupted runs
//
// Error: Error conditions requiring attention
//   - Crashed worker tasks
//   - Rows that could not be written
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (auth, fetcher, dispatcher, sink, mirror)
//   - id: identifier being looked up
//   - run_id: per-invocation uuid
//   - status_code: HTTP status code
//   - duration: Request duration
//   - error_class: Outcome classification (auth, remote, empty, transport, infrastructure)
