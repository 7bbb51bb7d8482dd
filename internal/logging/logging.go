package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how the root logger is built.
type Options struct {
	// Level is one of the LOG_LEVEL aliases. Empty means Fallback.
	Level string
	// Fallback is used when neither Level nor LOG_LEVEL is set.
	Fallback zerolog.Level
	// Pretty switches to a human readable console writer.
	Pretty bool
	// Out defaults to os.Stderr.
	Out io.Writer
}

// Init builds the root logger and installs it as the zerolog global.
// An explicit level wins over the LOG_LEVEL environment variable.
func Init(opts Options) zerolog.Logger {
	level := opts.Fallback
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, level)
	}
	if opts.Level != "" {
		level = ParseLevel(opts.Level, level)
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps the accepted level aliases onto zerolog levels.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "production", "prod":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	}
	return def
}

// Component returns a child logger tagged with a component name.
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
