// Package logging configures zerolog for the Spark client and its tools.
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
	// LevelDebug logs dispatch, queue and page flow.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// DebugEnv is the environment variable that switches on debug output when
// it names the spark namespace (DEBUG=spark, DEBUG=spark*,other).
const DebugEnv = "DEBUG"

// debugNamespace is matched as a substring of DebugEnv.
const debugNamespace = "spark"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// LevelFromEnv returns LevelDebug when the DEBUG variable mentions spark,
// otherwise fallback.
func LevelFromEnv(fallback LogLevel) LogLevel {
	return levelFromDebug(os.Getenv(DebugEnv), fallback)
}

func levelFromDebug(value string, fallback LogLevel) LogLevel {
	if strings.Contains(strings.ToLower(value), debugNamespace) {
		return LevelDebug
	}
	return fallback
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Immediate vs queued dispatch decisions
//   - Queue depth changes and drain ticker start/stop
//   - Page continuation (next URL, items so far)
//   - Cache operations (hit/miss, ETag revalidation)
//
// Info: Normal operation events
//   - Request chain completed (items, pages)
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - 429 responses and the retry delay honored
//   - Cache or rate-limit tracker errors (request continues)
//
// Error: Error conditions requiring attention
//   - Terminal failures (structural, HTTP status, transport)
//   - Configuration errors
//
// Context Fields:
//   - request_id: ID shared by every round of one logical request
//   - method, url: the outbound request
//   - status: HTTP status code
//   - depth: queue length after an insert
//   - delay: retry delay after a 429
//   - items, cap, pages: pagination progress
//   - duration: single call duration
