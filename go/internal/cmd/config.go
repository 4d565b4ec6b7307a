package main

import (
	"fmt"
	"os"

	"github.com/mcdev12/reflex/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func loadConfig(path, port string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if port != "" {
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --port: %w", err)
		}
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
}
