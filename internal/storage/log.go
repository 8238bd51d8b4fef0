package storage

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Level is a logging verbosity, mirroring zerolog's.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// LogConfig controls how NewLogger renders output.
type LogConfig struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// NewLogger builds a zerolog.Logger tagged with a fresh per-process
// instance id, so log lines from concurrently running engines (tests,
// multiple cmd/relcorectl invocations against the same data directory)
// can be told apart.
func NewLogger(cfg LogConfig) zerolog.Logger {
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

	instanceID := uuid.New().String()

	var logger zerolog.Logger
	if cfg.JSONOutput {
		logger = zerolog.New(output).With().Timestamp().Str("instance", instanceID).Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Str("instance", instanceID).Logger()
	}
	return logger
}

// WithComponent returns a child logger tagged with a component name, for
// attributing a log line to FileManager / BufferManager / WALManager /
// etc. without threading a distinct logger through every constructor.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
