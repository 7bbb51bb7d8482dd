package cmd

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/logging"
)

// LoadConfig loads configuration with the persistent flags applied on top
// of opts.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.File = flagConfig
	opts.ServerURL = flagServer
	opts.LogLevel = flagLogLevel

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, fallback zerolog.Level) zerolog.Logger {
	return logging.Init(logging.Options{
		Level:    cfg.Log.Level,
		Fallback: fallback,
		Pretty:   cfg.Log.Pretty,
	})
}
