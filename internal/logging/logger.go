package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger configures the global zerolog logger. Output is human readable on a terminal
// and JSON otherwise. An unknown level falls back to info.
func NewLogger(level string) *zerolog.Logger {
	return newLogger(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()), level)
}

func newLogger(out io.Writer, console bool, level string) *zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if console {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	if err != nil {
		logger.Warn().Msgf("unknown log level %q, using info", level)
	}
	return &logger
}
