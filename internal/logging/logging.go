// Package logging builds the zerolog loggers handed to every component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to out at level. An empty level means info;
// "off" or "disabled" silences it. pretty switches to the console writer.
func New(level string, out io.Writer, pretty bool) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	lvl := zerolog.InfoLevel
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "":
	case "off":
		lvl = zerolog.Disabled
	default:
		parsed, err := zerolog.ParseLevel(l)
		if err != nil {
			return zerolog.Nop(), err
		}
		lvl = parsed
	}

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Component returns a child of base tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
