package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

// logConfig is read from the environment before flags and the config file,
// so logging works while those are loaded.
type logConfig struct {
	Debug   bool   `env:"LOFIPROXY_DEBUG"`
	LogFile string `env:"LOFIPROXY_LOG_FILE"`
}

func setupLog() (func() error, error) {
	cfg, err := env.ParseAs[logConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %v", err)
	}

	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}

	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.TimeOnly)
	log.SetLevel(level)

	if cfg.LogFile == "" {
		return func() error { return nil }, nil
	}

	path := expandPath(cfg.LogFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}

	log.SetDefault(log.NewWithOptions(f, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	}))
	return f.Close, nil
}
