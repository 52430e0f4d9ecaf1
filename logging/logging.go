// Package logging builds the process logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"disputeflow/config"
)

// New returns a JSON production logger, or a console logger in development.
// LogLevel is one of debug, info, warn, error; empty means info.
func New(c config.Config) (*zap.Logger, error) {
	level := c.LogLevel
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("logging: level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	if c.Development() {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger.With(zap.String("service", "disputeflow")), nil
}
