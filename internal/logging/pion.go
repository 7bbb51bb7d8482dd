package logging

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory routes pion's scoped loggers into zerolog.
type LoggerFactory struct {
	log zerolog.Logger
}

var _ logging.LoggerFactory = LoggerFactory{}

// NewLoggerFactory caps pion output at level so its chatty ICE debug
// lines stay out of normal logs.
func NewLoggerFactory(root zerolog.Logger, level zerolog.Level) LoggerFactory {
	if root.GetLevel() > level {
		level = root.GetLevel()
	}
	return LoggerFactory{log: root.Level(level).With().Str("component", "pion").Logger()}
}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLog{log: f.log.With().Str("mod", scope).Logger()}
}

type pionLog struct {
	log zerolog.Logger
}

func (p pionLog) Trace(msg string)                  { p.log.Trace().Msg(msg) }
func (p pionLog) Tracef(format string, args ...any) { p.log.Trace().Msgf(format, args...) }
func (p pionLog) Debug(msg string)                  { p.log.Debug().Msg(msg) }
func (p pionLog) Debugf(format string, args ...any) { p.log.Debug().Msgf(format, args...) }
func (p pionLog) Info(msg string)                   { p.log.Info().Msg(msg) }
func (p pionLog) Infof(format string, args ...any)  { p.log.Info().Msgf(format, args...) }
func (p pionLog) Warn(msg string)                   { p.log.Warn().Msg(msg) }
func (p pionLog) Warnf(format string, args ...any)  { p.log.Warn().Msgf(format, args...) }
func (p pionLog) Error(msg string)                  { p.log.Error().Msg(msg) }
func (p pionLog) Errorf(format string, args ...any) { p.log.Error().Msgf(format, args...) }
