package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger: human readable in dev, JSON in production.
// It also replaces the zerolog global logger so packages logging through
// zerolog/log share the same output.
func New(env, service string) zerolog.Logger {
	var w io.Writer = os.Stderr
	level := zerolog.DebugLevel
	if env == "production" || env == "prod" {
		level = zerolog.InfoLevel
	} else {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	log.Logger = logger
	return logger
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger { return zerolog.Nop() }
