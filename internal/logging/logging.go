// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	ServiceName string
	Level       string
	// Format is "json" (default) or "console".
	Format string
	Output io.Writer
}

// New returns a logger stamped with a timestamp and the service name.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp()
	if opts.ServiceName != "" {
		ctx = ctx.Str("service", opts.ServiceName)
	}
	return ctx.Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || value == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
