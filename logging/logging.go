// Package logging builds the process logger from the logging configuration
// file named by config.yaml. The logger is created once in main and handed
// to every stage; nothing in this repository logs through a global.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config mirrors the logging configuration file.
type Config struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
	File   string `yaml:"file"`   // optional, appended to in addition to stderr
}

// LoadConfig reads the logging configuration file. A missing file yields
// info-level console logging.
func LoadConfig(path string) (Config, error) {
	cfg := Config{Level: "info", Format: "console"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse logging config %s: %w", path, err)
	}
	return cfg, nil
}

// New returns the root logger and a close func for the optional log file.
func New(cfg Config) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closeFn = f.Close
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closeFn, nil
}
