// Package relaylog builds the structured logger threaded through the
// core and the embedder. There is no package-level logger: New is called
// once at startup and the result is passed down explicitly, the way
// catbox threads its *Server through every handler instead of reaching
// for globals.
package relaylog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger at the given level (debug, info, warn,
// error; anything else falls back to info). pretty selects a
// human-readable console writer instead of raw JSON, for interactive use.
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out zerolog.ConsoleWriter
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
