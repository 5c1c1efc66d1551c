// Package logging builds the zap loggers used by the client and the server.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options selects the level, encoding and destinations of a logger.
type Options struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives log output in addition to stderr.
	File string `yaml:"file"`
}

// Defaults returns info level console logging to stderr.
func Defaults() Options {
	return Options{Level: "info", Format: FormatConsole}
}

// Validate checks the level and format names.
func (o Options) Validate() error {
	if _, err := zapcore.ParseLevel(levelOrDefault(o.Level)); err != nil {
		return fmt.Errorf("invalid log level %q", o.Level)
	}
	switch o.Format {
	case "", FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q (use console or json)", o.Format)
	}
	return nil
}

// New builds a logger from opts. The parent directory of File is created
// when missing.
func New(opts Options) (*zap.Logger, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(levelOrDefault(opts.Level))

	var cfg zap.Config
	if opts.Format == FormatJSON {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return strings.ToLower(level)
}
