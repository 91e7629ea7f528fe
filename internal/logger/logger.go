// ===========================================
// Package logger - Structured Logging
// ===========================================
// One zerolog logger is built at startup and handed to every component.
// Output is JSON on stdout; request-scoped child loggers carry the
// request id so a whole request can be grepped out of the stream.
// ===========================================

package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. level accepts zerolog level names
// (debug, info, warn, error); anything unknown falls back to info.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "shortlink").
		Logger()
}
