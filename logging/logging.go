// Package logging builds slog loggers backed by zerolog for applications
// using the library. The library itself only depends on log/slog.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// New returns a logger writing JSON lines to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return fromZerolog(zerolog.New(w), level)
}

// NewConsole returns a logger writing human-readable lines to w.
//
// Example:
//
//	logger := logging.NewConsole(os.Stderr, slog.LevelDebug)
//	answer, err := llm.Complete(ctx, conv, llm.WithLogger(logger))
func NewConsole(w io.Writer, level slog.Level) *slog.Logger {
	return fromZerolog(zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Stamp}), level)
}

func fromZerolog(zl zerolog.Logger, level slog.Level) *slog.Logger {
	zl = zl.With().Timestamp().Logger()
	return slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: level}))
}

// ParseLevel parses a level name such as "debug" or "WARN". Unknown names
// yield slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Err returns an attribute for err under the "error" key. A nil error
// yields an empty attribute, which handlers ignore.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
