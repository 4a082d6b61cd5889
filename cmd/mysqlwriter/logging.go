package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Log formats
const (
	logFormatConsole = "console"
	logFormatJSON    = "json"
)

// newLogger writes every level to w. Stdout is reserved for the result document.
func newLogger(format, level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	out := w
	switch format {
	case logFormatJSON:
	case logFormatConsole:
		out = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
