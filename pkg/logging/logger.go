// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used with NewLogger.
const (
	ComponentWorker       = "worker"
	ComponentRegistration = "registration"
	ComponentChat         = "chat"
	ComponentProxy        = "proxy"
	ComponentPrecache     = "precache"
)

// UnmarshalText accepts the level names case-insensitively, so a LogLevel
// can be read straight from an environment variable.
func (l *LogLevel) UnmarshalText(text []byte) error {
	switch LogLevel(strings.ToLower(strings.TrimSpace(string(text)))) {
	case LevelDebug:
		*l = LevelDebug
	case LevelInfo, "":
		*l = LevelInfo
	case LevelWarn, "warning":
		*l = LevelWarn
	case LevelError:
		*l = LevelError
	default:
		return fmt.Errorf("unknown log level %q", text)
	}
	return nil
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every line as "service" when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "swcache",
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
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
//   - Routing decisions (strategy per request)
//   - Store hits and misses
//   - Stores written on a network answer
//
// Info: Normal operation events
//   - Install and activation of a version
//   - Stores deleted on activation
//   - Registration state changes
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Offline fallbacks (stale API answer, root document)
//   - Install retries
//   - Store errors that fall back to the network
//   - API error answers
//
// Error: Error conditions requiring attention
//   - Installs that exhausted their attempts
//   - Network failures with nothing stored
//   - Panicking event handlers
//   - Configuration errors
//
// Context Fields:
//   - component: worker, precache, registration, chat, proxy
//   - version: worker version of the static store
//   - url, method: intercepted request
//   - strategy: cache-first, network-first, passthrough
//   - cache: store name
//   - event, event_id: dispatched worker event
//   - attempt: install attempt number
//   - status: HTTP status code
//   - error_class: client, server, network
