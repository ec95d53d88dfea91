package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger initialisation.
type Options struct {
	Environment string
	Level       string
	Output      io.Writer
}

// Init configures the global zerolog logger. Production emits JSON; every other
// environment gets a console writer with timestamps and callers.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := parseLevel(opts.Level)
	if strings.EqualFold(opts.Environment, "production") {
		log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Caller().Logger().Level(level)
}

func parseLevel(v string) zerolog.Level {
	if v == "" {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(v)))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
